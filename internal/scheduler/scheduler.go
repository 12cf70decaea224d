// Package scheduler runs the daemon's periodic jobs (worker heartbeat,
// incident pruning) on a cron clock with per-job timeouts and a bounded
// run history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "empathai/pkg/logx"
)

var ErrDuplicate = errors.New("scheduler: duplicate job name")

type Config struct {
	Timezone       string
	DefaultTimeout time.Duration
	HistorySize    int
}

// Job is a named periodic function. Spec accepts five-field cron
// expressions and descriptors such as "@every 25s" or "@daily".
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Run struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	ctx     context.Context
	jobs    []Job
	entries map[string]cron.EntryID

	hmu     sync.Mutex
	history []Run
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]cron.EntryID{},
	}
}

// Validate parses spec without registering anything.
func (s *Service) Validate(spec string) error {
	_, err := s.parser.Parse(spec)
	return err
}

// Add registers j. Jobs added before Start are scheduled when it runs.
func (s *Service) Add(j Job) error {
	if strings.TrimSpace(j.Name) == "" || j.Run == nil {
		return errors.New("scheduler: job needs a name and a func")
	}
	if err := s.Validate(j.Spec); err != nil {
		return fmt.Errorf("scheduler: job %s: %w", j.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.Name == j.Name {
			return ErrDuplicate
		}
	}
	s.jobs = append(s.jobs, j)
	if s.c != nil {
		return s.addLocked(j)
	}
	return nil
}

// Reschedule swaps the spec of a registered job.
func (s *Service) Reschedule(name, spec string) error {
	if err := s.Validate(spec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.Name != name {
			continue
		}
		if j.Spec == spec {
			return nil
		}
		s.jobs[i].Spec = spec
		if s.c != nil {
			if id, ok := s.entries[name]; ok {
				s.c.Remove(id)
			}
			return s.addLocked(s.jobs[i])
		}
		return nil
	}
	return fmt.Errorf("scheduler: unknown job %s", name)
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	loc := s.location()
	clog := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	for _, j := range s.jobs {
		if err := s.addLocked(j); err != nil {
			return err
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.jobs)), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
	s.log.Info("scheduler stopped")
}

// RunNow executes the named job synchronously.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var job *Job
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			j := s.jobs[i]
			job = &j
		}
	}
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("scheduler: unknown job %s", name)
	}
	return s.exec(ctx, *job)
}

// History returns recent runs, oldest first.
func (s *Service) History() []Run {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]Run(nil), s.history...)
}

func (s *Service) addLocked(j Job) error {
	id, err := s.c.AddFunc(j.Spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		_ = s.exec(ctx, j)
	})
	if err != nil {
		return err
	}
	s.entries[j.Name] = id
	return nil
}

func (s *Service) exec(ctx context.Context, j Job) error {
	timeout := j.Timeout
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.Run(runCtx)
	item := Run{Name: j.Name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", j.Name), logx.Err(err))
	} else {
		s.log.Trace("job ok", logx.String("job", j.Name), logx.Duration("took", item.Duration))
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	size := s.cfg.HistorySize
	if size <= 0 {
		size = 50
	}
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
	return err
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron's logger interface.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}

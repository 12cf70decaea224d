// Package supervisor runs named goroutines under a shared context with panic
// recovery and optional restart loops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "empathai/pkg/logx"
)

// Supervisor owns a group of goroutines tied to one context.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	active   atomic.Int64
	errOnce  sync.Once
	firstErr atomic.Value // error
	doneOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	tasks map[string]*TaskStats
}

type Option func(*Supervisor)

// TaskStats is a best-effort view of one named goroutine. It is meant for
// status output only.
type TaskStats struct {
	Name      string    `json:"name"`
	Running   int       `json:"running"`
	Starts    int       `json:"starts"`
	Restarts  int       `json:"restarts"`
	Panics    int       `json:"panics"`
	LastStart time.Time `json:"last_start"`
	LastErr   string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Active     int64       `json:"active"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels the whole group on the first goroutine error.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		doneCh: make(chan struct{}),
		tasks:  map[string]*TaskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the group context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	err, _ := s.firstErr.Load().(error)
	return err
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Active: s.active.Load()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, *t)
	}
	s.mu.Unlock()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

func (s *Supervisor) track(name string, fn func(t *TaskStats)) {
	s.mu.Lock()
	t := s.tasks[name]
	if t == nil {
		t = &TaskStats{Name: name}
		s.tasks[name] = t
	}
	fn(t)
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once. A returned error (other than cancellation) or a panic is
// recorded as the group error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.track(name, func(t *TaskStats) { t.Running++; t.Starts++; t.LastStart = time.Now() })
		err := s.runGuarded(name, fn)
		s.track(name, func(t *TaskStats) {
			t.Running--
			if err != nil {
				t.LastErr = err.Error()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
}

func (s *Supervisor) runGuarded(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.track(name, func(t *TaskStats) { t.Panics++ })
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	maxRestarts     int
	stopOnCleanExit bool
	publishFirstErr bool
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. n <= 0 means unlimited.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// WithPublishFirstError records the first failure as the group error while
// still restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or counts as an unexpected exit to restart from.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(c *restartCfg) { c.stopOnCleanExit = enabled }
}

// GoRestart runs fn and restarts it with jittered exponential backoff after
// errors or panics until the group context ends.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second, stopOnCleanExit: true}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		backoff := cfg.minBackoff
		for restarts := 0; ; restarts++ {
			if s.ctx.Err() != nil {
				return
			}
			started := time.Now()
			s.track(name, func(t *TaskStats) {
				t.Running++
				t.Starts++
				t.LastStart = started
				if restarts > 0 {
					t.Restarts++
				}
			})
			err := s.runGuarded(name, fn)
			s.track(name, func(t *TaskStats) {
				t.Running--
				if err != nil {
					t.LastErr = err.Error()
				}
			})

			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if cfg.stopOnCleanExit {
					return
				}
				err = errors.New("exited")
			}
			if cfg.publishFirstErr {
				s.errOnce.Do(func() { s.firstErr.Store(fmt.Errorf("%s: %w", name, err)) })
			}
			if cfg.maxRestarts > 0 && restarts >= cfg.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return
			}

			// A long healthy run resets the backoff.
			if time.Since(started) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			wait := backoff + time.Duration(rng.Int63n(int64(backoff)/5+1))
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	}()
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error { fn(ctx); return nil }, opts...)
}

// Stop cancels the group and waits for it, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

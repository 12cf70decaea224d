package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"empathai/internal/eventbus"
	rtsup "empathai/internal/runtime/supervisor"
	"empathai/internal/storage"
	logx "empathai/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	text     string
	key      string
	severity string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service is the relay queue. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	store  storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue     chan job
	persistCh chan dedupWrite
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, store: store, dedup: map[string]time.Time{}}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 500
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 64)
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		rtsup.WithCancelOnError(false),
	)
	sup, q, pch, st, workers := s.sup, s.queue, s.persistCh, s.store, s.cfg.Workers
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return s.exitErr(c, "persist loop")
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return s.exitErr(c, "worker")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("relay started", logx.Int("workers", workers))
}

// exitErr turns a loop return into a supervisor result: shutdown exits are
// cancellations, anything else restarts.
func (s *Service) exitErr(c context.Context, what string) error {
	s.mu.Lock()
	stopping := s.stopDone != nil
	s.mu.Unlock()
	if stopping {
		return context.Canceled
	}
	if c.Err() != nil {
		return c.Err()
	}
	return fmt.Errorf("notifier %s exited unexpectedly", what)
}

// Stop closes intake and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		if pch != nil {
			close(pch)
		}
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.queue, s.persistCh, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Relay queues a. A deduplicated alert returns nil without sending.
func (s *Service) Relay(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, max, persist := s.cfg.DedupWindow, s.cfg.DedupMaxEntries, s.cfg.PersistDedup
	st, pch := s.store, s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := DedupKey(a)
	ev := RelayEvent{Key: key, Severity: a.Severity.String(), At: time.Now()}
	if window > 0 {
		if !s.dedupAllow(ctx, key, window, max, persist, st, pch) {
			eventbus.Publish(s.bus, eventbus.RelayDeduped, ev)
			return nil
		}
	}
	eventbus.Publish(s.bus, eventbus.RelayQueued, ev)
	select {
	case q <- job{text: FormatAlert(a), key: key, severity: a.Severity.String()}:
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		eventbus.Publish(s.bus, eventbus.RelayDropped, ev)
		return ErrQueueFull
	}
}

// FormatAlert renders the contact message.
func FormatAlert(a Alert) string {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 EmpathAI %s alert\n", a.Severity)
	if app := strings.TrimSpace(a.SourceApp); app != "" {
		fmt.Fprintf(&b, "Source: %s\n", app)
	}
	fmt.Fprintf(&b, "Time: %s\n", at.Format(time.RFC1123))
	b.WriteString("Someone you support may have received a distressing message. Please check in with them 💜")
	return b.String()
}

// DedupKey groups alerts by tier and source app.
func DedupKey(a Alert) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(a.Severity.String()))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(a.SourceApp))))
	return fmt.Sprintf("relay:%x", h.Sum64())
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("persist dedup failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sender.SendAlert(callCtx, j.text)
		cancel()
		if err == nil {
			s.appendHistory(j.text)
			eventbus.Publish(s.bus, eventbus.RelaySent, RelayEvent{Key: j.key, Severity: j.severity, At: time.Now()})
			s.log.Info("relay alert sent", logx.String("severity", j.severity), logx.Int("attempt", attempt))
			return
		}
		lastErr = err
		s.log.Debug("relay send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("relay alert failed", logx.String("severity", j.severity), logx.Err(lastErr))
	eventbus.Publish(s.bus, eventbus.RelayFailed, RelayEvent{Key: j.key, Severity: j.severity, At: time.Now(), Error: lastErr.Error()})
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

package permission

import (
	"context"
	"sync"
	"time"

	"empathai/internal/eventbus"
	logx "empathai/pkg/logx"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 60 * time.Second
)

type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

type Deps struct {
	Prompter Prompter
	Listener Listener
	Store    Store
	Notifier Notifier
	Clock    Clock
	Bus      eventbus.Bus
	Log      logx.Logger
}

// Controller serializes every permission and preference mutation behind one
// mutex. The listener is active exactly when the state is Granted and the
// preference is enabled.
type Controller struct {
	deps Deps
	log  logx.Logger

	// toggleMu orders preference writes so the stored flag and the
	// in-memory flag always agree.
	toggleMu sync.Mutex

	mu             sync.Mutex
	cfg            Config
	ctx            context.Context
	state          State
	enabled        bool
	listenerActive bool
	retries        int
	pending        bool
	generation     uint64
	timer          Timer
	closed         bool

	wg sync.WaitGroup
}

// ListenerEvent is published on eventbus.ListenerChanged.
type ListenerEvent struct {
	Active bool   `json:"active"`
	Error  string `json:"error,omitempty"`
}

func NewController(cfg Config, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{deps: deps, log: log, ctx: context.Background()}
	c.Apply(cfg)
	return c
}

// Apply updates retry knobs. A retry that is already scheduled keeps its delay.
func (c *Controller) Apply(cfg Config) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Start restores the persisted decision and preference. A Granted and
// enabled pair activates the listener without prompting; nothing else
// prompts at startup.
func (c *Controller) Start(ctx context.Context) error {
	state := Unrequested
	enabled := false
	if st := c.deps.Store; st != nil {
		s, err := st.LoadPermission(ctx)
		if err != nil {
			return err
		}
		on, err := st.NotificationsEnabled(ctx)
		if err != nil {
			return err
		}
		state, enabled = s, on
	}
	// A dismissal only lives as long as the prompt that produced it.
	if state == Dismissed {
		state = Unrequested
	}

	c.mu.Lock()
	c.ctx = ctx
	c.state = state
	c.enabled = enabled
	c.reconcileLocked()
	c.mu.Unlock()

	c.log.Info("permission restored", logx.String("state", state.String()), logx.Bool("enabled", enabled))
	return nil
}

// Close cancels a pending retry and deactivates the listener. It waits for
// background prompts bounded by ctx.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	c.generation++
	c.stopTimerLocked()
	if c.listenerActive && c.deps.Listener != nil {
		c.deps.Listener.Deactivate()
	}
	c.listenerActive = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:          c.state,
		Enabled:        c.enabled,
		ListenerActive: c.listenerActive,
		Retries:        c.retries,
		PromptPending:  c.pending,
		RetryScheduled: c.timer != nil,
	}
}

// RequestPermission prompts the user and blocks until the prompt resolves.
// Only one prompt can be outstanding.
func (c *Controller) RequestPermission(ctx context.Context) (State, error) {
	c.mu.Lock()
	if err := c.canPromptLocked(); err != nil {
		st := c.state
		c.mu.Unlock()
		if err == ErrDenied {
			c.notice(ctx, NoticeDenied)
		}
		return st, err
	}
	if c.state == Granted {
		c.reconcileLocked()
		c.mu.Unlock()
		return Granted, nil
	}
	c.pending = true
	c.stopTimerLocked()
	c.mu.Unlock()

	return c.prompt(ctx)
}

func (c *Controller) canPromptLocked() error {
	switch {
	case c.closed || !c.enabled:
		return ErrDisabled
	case c.pending:
		return ErrPromptPending
	case c.state == Denied:
		return ErrDenied
	}
	return nil
}

func (c *Controller) prompt(ctx context.Context) (State, error) {
	var (
		result = Dismissed
		err    error
	)
	if p := c.deps.Prompter; p != nil {
		result, err = p.Request(ctx)
	}
	if err != nil {
		c.log.Warn("permission prompt failed; treating as dismissed", logx.Err(err))
		result = Dismissed
	}
	if result != Granted && result != Denied {
		result = Dismissed
	}
	c.resolve(ctx, result)
	return result, nil
}

func (c *Controller) resolve(ctx context.Context, result State) {
	c.mu.Lock()
	c.pending = false
	if c.closed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = result

	var notice NoticeKind
	switch result {
	case Granted:
		c.retries = 0
		c.stopTimerLocked()
		notice = NoticeGranted
	case Denied:
		c.stopTimerLocked()
		notice = NoticeDenied
	case Dismissed:
		switch {
		case !c.enabled:
		case c.retries < c.cfg.MaxRetries:
			c.retries++
			c.scheduleRetryLocked()
			notice = NoticeReminder
		default:
			c.log.Warn("permission retry budget exhausted", logx.Int("retries", c.retries))
			notice = NoticeExpired
		}
	}
	c.reconcileLocked()
	retries := c.retries
	c.mu.Unlock()

	c.persist(ctx, result)
	c.log.Info("permission resolved",
		logx.String("from", prev.String()),
		logx.String("to", result.String()),
		logx.Int("retries", retries),
	)
	eventbus.Publish(c.deps.Bus, eventbus.PermissionChanged, c.Status())
	c.notice(ctx, notice)
}

func (c *Controller) scheduleRetryLocked() {
	c.stopTimerLocked()
	gen := c.generation
	c.timer = c.deps.Clock.AfterFunc(c.cfg.RetryDelay, func() { c.retry(gen) })
}

func (c *Controller) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.closed || !c.enabled || c.state != Dismissed || c.pending {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = Unrequested
	c.pending = true
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		_, _ = c.prompt(ctx)
	}()
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// SetEnabled records the user's preference toggle. Disabling deactivates the
// listener and cancels any scheduled retry. Enabling activates directly when
// already Granted, and otherwise starts a prompt in the background unless the
// user previously denied permission.
func (c *Controller) SetEnabled(ctx context.Context, on bool) error {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()
	if st := c.deps.Store; st != nil {
		if err := st.SetNotificationsEnabled(ctx, on); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDisabled
	}
	c.enabled = on
	var notice NoticeKind
	startPrompt := false
	if !on {
		c.generation++
		c.stopTimerLocked()
		notice = NoticeDisabled
	} else {
		switch c.state {
		case Denied:
			notice = NoticeDenied
		case Unrequested, Dismissed:
			// Toggling on is an explicit user action and restarts the budget.
			c.state = Unrequested
			c.retries = 0
			c.generation++
			c.stopTimerLocked()
			if !c.pending {
				c.pending = true
				startPrompt = true
			}
		}
	}
	c.reconcileLocked()
	if startPrompt {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.log.Info("notifications preference changed", logx.Bool("enabled", on))
	if notice != "" {
		c.notice(ctx, notice)
	}
	if startPrompt {
		go func() {
			defer c.wg.Done()
			_, _ = c.prompt(c.baseCtx())
		}()
	}
	return nil
}

// Reset clears a Denied or Dismissed decision after an explicit user action
// and prompts again when the preference is enabled.
func (c *Controller) Reset(ctx context.Context) error {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDisabled
	}
	if c.state == Granted {
		c.mu.Unlock()
		return nil
	}
	c.state = Unrequested
	c.retries = 0
	c.generation++
	c.stopTimerLocked()
	startPrompt := c.enabled && !c.pending
	if startPrompt {
		c.pending = true
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.persist(ctx, Unrequested)
	if startPrompt {
		go func() {
			defer c.wg.Done()
			_, _ = c.prompt(c.baseCtx())
		}()
	}
	return nil
}

func (c *Controller) baseCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// reconcileLocked drives the listener toward state==Granted && enabled.
func (c *Controller) reconcileLocked() {
	want := c.state == Granted && c.enabled && !c.closed
	if want == c.listenerActive || c.deps.Listener == nil {
		if c.deps.Listener == nil {
			c.listenerActive = want
		}
		return
	}
	ev := ListenerEvent{Active: want}
	if want {
		if err := c.deps.Listener.Activate(c.ctx); err != nil {
			c.log.Error("listener activation failed", logx.Err(err))
			ev = ListenerEvent{Active: false, Error: err.Error()}
			eventbus.Publish(c.deps.Bus, eventbus.ListenerChanged, ev)
			return
		}
		c.listenerActive = true
		c.log.Info("listener activated")
	} else {
		c.deps.Listener.Deactivate()
		c.listenerActive = false
		c.log.Info("listener deactivated")
	}
	eventbus.Publish(c.deps.Bus, eventbus.ListenerChanged, ev)
}

func (c *Controller) persist(ctx context.Context, s State) {
	st := c.deps.Store
	if st == nil {
		return
	}
	// Dismissals are transient.
	if s == Dismissed {
		s = Unrequested
	}
	if err := st.SavePermission(ctx, s); err != nil {
		c.log.Warn("persist permission failed", logx.Err(err))
	}
}

func (c *Controller) notice(ctx context.Context, kind NoticeKind) {
	if kind == "" {
		return
	}
	text := NoticeText(kind)
	c.log.Info("notice", logx.String("kind", string(kind)), logx.String("text", text))
	if n := c.deps.Notifier; n != nil {
		n.Notice(ctx, kind, text)
	}
}

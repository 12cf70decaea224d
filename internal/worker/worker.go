// Package worker is the background context that keeps support
// notifications alive, routes their clicks to the chat and re-enters push
// payloads into the pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"empathai/internal/clients"
	"empathai/internal/desktop"
	"empathai/internal/eventbus"
	"empathai/internal/presenter"
	"empathai/internal/source"
	"empathai/internal/source/push"
	"empathai/internal/support"
	logx "empathai/pkg/logx"
)

type State string

const (
	Stopped    State = "stopped"
	Installing State = "installing"
	Activated  State = "activated"
	Idle       State = "idle"
	Handling   State = "handling"
)

var (
	ErrNotActive = errors.New("worker: not active")
	ErrQueueFull = errors.New("worker: queue full")
)

// DefaultHeartbeat matches the page keep-alive interval.
const DefaultHeartbeat = "@every 25s"

type Config struct {
	QueueSize int
	// ChatMatch selects the client a click focuses.
	ChatMatch string
	// Watchdog pings the service manager on every heartbeat.
	Watchdog bool
}

// Pusher feeds push payloads back into the pipeline.
type Pusher interface {
	Deliver(e source.Event) error
}

// SdNotifier sends a service manager state string.
type SdNotifier func(state string) (bool, error)

func systemdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

type Deps struct {
	Display Display
	Hub     *clients.Hub
	Opener  clients.Opener
	Push    Pusher
	Bus     eventbus.Bus
	Log     logx.Logger
	Notify  SdNotifier
}

// ClickEvent is published on eventbus.WorkerClick.
type ClickEvent struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Client string `json:"client,omitempty"`
	Opened bool   `json:"opened"`
}

// request is one queued display; done receives the display result.
type request struct {
	content presenter.Content
	done    chan error
}

type live struct {
	content presenter.Content
	clicked bool
}

type Worker struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu     sync.Mutex
	state  State
	queue  chan request
	live   map[uint32]*live
	cancel context.CancelFunc
	// stopped is closed when the serving loop's context ends.
	stopped <-chan struct{}
	wg      sync.WaitGroup
	beats   uint64
	shown   uint64
	clicks  uint64
}

func New(cfg Config, deps Deps) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.ChatMatch == "" {
		cfg.ChatMatch = support.ChatPath
	}
	if deps.Notify == nil {
		deps.Notify = systemdNotify
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Worker{cfg: cfg, deps: deps, log: log, state: Stopped, live: map[uint32]*live{}}
	if deps.Hub != nil {
		deps.Hub.OnMessage(w.onClientMessage)
	}
	return w
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	eventbus.Publish(w.deps.Bus, eventbus.WorkerState, string(s))
}

// setServing moves between Idle and Handling. It never leaves Stopped.
func (w *Worker) setServing(s State) {
	w.mu.Lock()
	if w.state != Idle && w.state != Handling {
		w.mu.Unlock()
		return
	}
	w.state = s
	w.mu.Unlock()
	eventbus.Publish(w.deps.Bus, eventbus.WorkerState, string(s))
}

// Ready reports whether Post will be accepted.
func (w *Worker) Ready() bool {
	s := w.State()
	return s == Idle || s == Handling
}

// Install prepares the worker. It fails when no display is available.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	if w.state != Stopped {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	w.setState(Installing)
	if w.deps.Display == nil {
		w.setState(Stopped)
		return errors.New("worker: no display")
	}
	return ctx.Err()
}

// Activate claims every open client and starts serving notifications.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	if w.state != Installing {
		st := w.state
		w.mu.Unlock()
		if st == Idle || st == Handling {
			return nil
		}
		return fmt.Errorf("worker: activate from %s", st)
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.queue = make(chan request, w.cfg.QueueSize)
	w.stopped = runCtx.Done()
	w.mu.Unlock()
	w.setState(Activated)

	claimed := 0
	if w.deps.Hub != nil {
		claimed = w.deps.Hub.Claim()
	}
	if ok, err := w.deps.Notify(daemon.SdNotifyReady); err != nil {
		w.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		w.log.Debug("sd_notify ready sent")
	}

	events, unsub := w.deps.Display.Events()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer unsub()
		w.loop(runCtx, events)
	}()

	w.mu.Lock()
	if w.state != Activated {
		w.mu.Unlock()
		return ErrNotActive
	}
	w.state = Idle
	w.mu.Unlock()
	eventbus.Publish(w.deps.Bus, eventbus.WorkerState, string(Idle))
	w.log.Info("worker activated", logx.Int("claimed_clients", claimed))
	return nil
}

// Start installs and activates.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.Activate(ctx)
}

func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	// Stopped before cancel so Ready and Post refuse new work.
	w.setState(Stopped)
	_, _ = w.deps.Notify(daemon.SdNotifyStopping)
	cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.log.Warn("worker stop timed out")
	}
	w.log.Info("worker stopped")
}

// Post queues c and waits until the display has shown or rejected it, so
// a display failure reaches the caller.
func (w *Worker) Post(ctx context.Context, c presenter.Content) error {
	w.mu.Lock()
	q, stopped := w.queue, w.stopped
	ready := w.state == Idle || w.state == Handling
	w.mu.Unlock()
	if !ready || q == nil {
		return ErrNotActive
	}
	req := request{content: c, done: make(chan error, 1)}
	select {
	case q <- req:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
	select {
	case err := <-req.done:
		return err
	case <-stopped:
		return ErrNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, events <-chan desktop.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			req.done <- w.show(ctx, req.content)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.handleEvent(ctx, ev)
		}
	}
}

func (w *Worker) show(ctx context.Context, c presenter.Content) error {
	w.setServing(Handling)
	defer w.setServing(Idle)

	id, err := w.deps.Display.Show(ctx, c)
	if err != nil {
		w.log.Warn("display failed", logx.String("id", c.ID), logx.Err(err))
		return fmt.Errorf("worker display: %w", err)
	}
	w.mu.Lock()
	w.live[id] = &live{content: c}
	w.shown++
	w.mu.Unlock()
	w.log.Debug("notification shown", logx.String("id", c.ID), logx.Int64("display_id", int64(id)))
	return nil
}

func (w *Worker) handleEvent(ctx context.Context, ev desktop.Event) {
	switch ev.Kind {
	case desktop.ActionInvoked:
		w.mu.Lock()
		n, ok := w.live[ev.ID]
		if !ok || n.clicked {
			w.mu.Unlock()
			return
		}
		n.clicked = true
		w.clicks++
		c := n.content
		w.mu.Unlock()

		w.setServing(Handling)
		w.routeClick(ctx, c)
		if err := w.deps.Display.Dismiss(ctx, ev.ID); err != nil {
			w.log.Debug("dismiss failed", logx.Err(err))
		}
		w.setServing(Idle)
	case desktop.NotificationClosed:
		w.mu.Lock()
		delete(w.live, ev.ID)
		w.mu.Unlock()
	}
}

// routeClick focuses an open chat client or opens a new window.
func (w *Worker) routeClick(ctx context.Context, c presenter.Content) {
	ev := ClickEvent{ID: c.ID, URL: c.URL}
	focused := false
	if w.deps.Hub != nil {
		if info, ok := w.deps.Hub.Find(w.cfg.ChatMatch); ok {
			if err := w.deps.Hub.Focus(info.ID, c.URL); err != nil {
				w.log.Warn("focus client failed", logx.String("client", info.ID), logx.Err(err))
			} else {
				focused = true
				ev.Client = info.ID
			}
		}
	}
	if !focused && w.deps.Opener != nil {
		if err := w.deps.Opener.Open(ctx, c.URL); err != nil {
			w.log.Warn("open window failed", logx.Err(err))
		} else {
			ev.Opened = true
		}
	}
	w.log.Info("notification clicked", logx.String("id", c.ID), logx.Bool("focused", focused), logx.Bool("opened", ev.Opened))
	eventbus.Publish(w.deps.Bus, eventbus.WorkerClick, ev)
}

// Heartbeat is the periodic keep-alive job.
func (w *Worker) Heartbeat(ctx context.Context) error {
	if !w.Ready() {
		return ErrNotActive
	}
	w.mu.Lock()
	w.beats++
	n := len(w.live)
	w.mu.Unlock()
	w.log.Trace("worker heartbeat", logx.Int("live", n))
	if w.cfg.Watchdog {
		if _, err := w.deps.Notify(daemon.SdNotifyWatchdog); err != nil {
			return fmt.Errorf("watchdog: %w", err)
		}
	}
	return ctx.Err()
}

// Stats is a status snapshot.
type Stats struct {
	State  State  `json:"state"`
	Live   int    `json:"live"`
	Shown  uint64 `json:"shown"`
	Clicks uint64 `json:"clicks"`
	Beats  uint64 `json:"heartbeats"`
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{State: w.state, Live: len(w.live), Shown: w.shown, Clicks: w.clicks, Beats: w.beats}
}

// HandlePush re-enters a push payload into the pipeline.
func (w *Worker) HandlePush(p push.Payload) error {
	if w.deps.Push == nil {
		return errors.New("worker: push re-entry not wired")
	}
	e := p.Event()
	e.ReceivedAt = time.Now()
	e.Origin = "worker"
	return w.deps.Push.Deliver(e)
}

func (w *Worker) onClientMessage(_ context.Context, clientID string, m clients.Message) {
	if m.Type != clients.MsgPush {
		w.log.Debug("ignored client message", logx.String("client", clientID), logx.String("type", m.Type))
		return
	}
	var p push.Payload
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &p); err != nil {
			w.log.Debug("invalid push from client", logx.String("client", clientID), logx.Err(err))
			p = push.Payload{}
		}
	}
	if err := w.HandlePush(p); err != nil {
		w.log.Warn("push re-entry failed", logx.String("client", clientID), logx.Err(err))
	}
}

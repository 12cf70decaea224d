package source

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	logx "empathai/pkg/logx"
)

// Group subscribes a set of sources as one listener. It satisfies
// permission.Listener.
type Group struct {
	sources []Source
	handler Handler
	status  *Status
	log     logx.Logger

	mu     sync.Mutex
	unsubs []func()
	active bool
}

func NewGroup(h Handler, status *Status, log logx.Logger, sources ...Source) *Group {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Group{sources: sources, handler: h, status: status, log: log}
}

// Activate subscribes every source. Sources that fail stay inactive; the
// group only errors when no source could be subscribed.
func (g *Group) Activate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return nil
	}
	var errs []error
	for _, src := range g.sources {
		name := src.Name()
		unsub, err := src.Subscribe(ctx, g.guard(name))
		if err != nil {
			g.status.Inactive(name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		g.status.Active(name)
		g.unsubs = append(g.unsubs, unsub)
	}
	if len(g.unsubs) == 0 && len(g.sources) > 0 {
		return errors.Join(errs...)
	}
	g.active = true
	g.log.Info("listener subscribed", logx.Int("sources", len(g.unsubs)), logx.Int("failed", len(errs)))
	return nil
}

func (g *Group) Deactivate() {
	g.mu.Lock()
	unsubs := g.unsubs
	g.unsubs = nil
	g.active = false
	g.mu.Unlock()
	for _, u := range unsubs {
		if u != nil {
			u()
		}
	}
}

func (g *Group) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// guard tags events with their origin and keeps handler panics inside the
// source loop.
func (g *Group) guard(name string) Handler {
	return func(ctx context.Context, e Event) {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("notification handler panicked",
					logx.String("source", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		if e.Origin == "" {
			e.Origin = name
		}
		if g.handler != nil {
			g.handler(ctx, e)
		}
	}
}

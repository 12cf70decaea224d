// Package sourcetest provides an in-memory notification source for tests.
package sourcetest

import (
	"context"
	"sync"
	"time"

	"empathai/internal/source"
)

// Fake is a source whose events are injected with Emit. Events emitted
// while unsubscribed are discarded, like a real platform would.
type Fake struct {
	name string

	mu      sync.Mutex
	handler source.Handler
	ctx     context.Context
	subs    int
	err     error
}

func New(name string) *Fake {
	if name == "" {
		name = "fake"
	}
	return &Fake{name: name}
}

func (f *Fake) Name() string { return f.name }

// FailWith makes the next Subscribe calls return err.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *Fake) Subscribe(ctx context.Context, h source.Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.handler = h
	f.ctx = ctx
	f.subs++
	return func() {
		f.mu.Lock()
		f.handler = nil
		f.mu.Unlock()
	}, nil
}

// Subscriptions counts successful Subscribe calls.
func (f *Fake) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

func (f *Fake) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

// Emit delivers e synchronously and reports whether a handler received it.
func (f *Fake) Emit(e source.Event) bool {
	f.mu.Lock()
	h, ctx := f.handler, f.ctx
	f.mu.Unlock()
	if h == nil {
		return false
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	if e.Origin == "" {
		e.Origin = f.name
	}
	h(ctx, e)
	return true
}

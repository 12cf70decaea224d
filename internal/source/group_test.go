package source_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empathai/internal/eventbus"
	"empathai/internal/source"
	"empathai/internal/source/sourcetest"
	logx "empathai/pkg/logx"
)

type collector struct {
	mu     sync.Mutex
	events []source.Event
}

func (c *collector) handle(_ context.Context, e source.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) all() []source.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]source.Event(nil), c.events...)
}

func TestEventText(t *testing.T) {
	assert.Equal(t, "Alice you are stupid", source.Event{Title: "Alice", Body: "you are stupid"}.Text())
	assert.Equal(t, "only body", source.Event{Body: "only body"}.Text())
	assert.Equal(t, "", source.Event{}.Text())
}

func TestGroupActivateDeactivate(t *testing.T) {
	fake := sourcetest.New("fake")
	c := &collector{}
	g := source.NewGroup(c.handle, source.NewStatus(logx.Nop(), nil), logx.Nop(), fake)

	assert.False(t, fake.Emit(source.Event{Title: "before"}))

	require.NoError(t, g.Activate(testContext(t)))
	require.NoError(t, g.Activate(testContext(t)))
	assert.Equal(t, 1, fake.Subscriptions(), "second activate must not re-register")
	assert.True(t, g.Active())

	assert.True(t, fake.Emit(source.Event{Title: "a", Body: "b"}))
	g.Deactivate()
	assert.False(t, g.Active())
	assert.False(t, fake.Emit(source.Event{Title: "after"}))

	got := c.all()
	require.Len(t, got, 1)
	assert.Equal(t, "fake", got[0].Origin)
}

func TestGroupKeepsWorkingSources(t *testing.T) {
	good := sourcetest.New("good")
	bad := sourcetest.New("bad")
	bad.FailWith(source.ErrAccessDenied)

	bus := eventbus.New()
	sub, unsub := bus.Subscribe(8)
	defer unsub()

	status := source.NewStatus(logx.Nop(), bus)
	g := source.NewGroup(func(context.Context, source.Event) {}, status, logx.Nop(), bad, good)
	require.NoError(t, g.Activate(testContext(t)))

	snap := status.Snapshot()
	assert.True(t, snap["good"])
	assert.False(t, snap["bad"])

	var inactive int
	for len(sub) > 0 {
		if ev := <-sub; ev.Type == eventbus.SourceInactive {
			inactive++
		}
	}
	assert.Equal(t, 1, inactive)
}

func TestGroupFailsWhenNoSourceSubscribes(t *testing.T) {
	bad := sourcetest.New("bad")
	bad.FailWith(source.ErrAccessDenied)
	g := source.NewGroup(nil, source.NewStatus(logx.Nop(), nil), logx.Nop(), bad)
	err := g.Activate(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrAccessDenied))
	assert.False(t, g.Active())
}

func TestStatusReportsOncePerActivation(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(8)
	defer unsub()
	st := source.NewStatus(logx.Nop(), bus)

	st.Inactive("dbus", source.ErrAccessDenied)
	st.Inactive("dbus", source.ErrAccessDenied)
	st.Active("dbus")
	st.Inactive("dbus", source.ErrAccessDenied)

	var inactive int
	for len(sub) > 0 {
		if ev := <-sub; ev.Type == eventbus.SourceInactive {
			inactive++
		}
	}
	assert.Equal(t, 2, inactive)
}

func TestHandlerPanicIsContained(t *testing.T) {
	fake := sourcetest.New("fake")
	calls := 0
	g := source.NewGroup(func(context.Context, source.Event) {
		calls++
		panic("boom")
	}, source.NewStatus(logx.Nop(), nil), logx.Nop(), fake)
	require.NoError(t, g.Activate(testContext(t)))

	assert.NotPanics(t, func() { fake.Emit(source.Event{Title: "x"}) })
	assert.NotPanics(t, func() { fake.Emit(source.Event{Title: "y"}) })
	assert.Equal(t, 2, calls)
	assert.True(t, fake.Subscribed())
}

package dbusprompt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empathai/internal/desktop"
	"empathai/internal/permission"
)

type fakeBus struct {
	events chan desktop.Event
	err    error
	closed []uint32
	notes  []desktop.Notification
}

func newFakeBus() *fakeBus { return &fakeBus{events: make(chan desktop.Event, 4)} }

func (b *fakeBus) Notify(_ context.Context, n desktop.Notification) (uint32, error) {
	b.notes = append(b.notes, n)
	return 42, b.err
}

func (b *fakeBus) CloseNotification(_ context.Context, id uint32) error {
	b.closed = append(b.closed, id)
	return nil
}

func (b *fakeBus) Subscribe(int) (<-chan desktop.Event, func()) { return b.events, func() {} }

func TestPromptAnswers(t *testing.T) {
	cases := []struct {
		name string
		ev   desktop.Event
		want permission.State
	}{
		{"allow", desktop.Event{ID: 42, Kind: desktop.ActionInvoked, Action: ActionAllow}, permission.Granted},
		{"deny", desktop.Event{ID: 42, Kind: desktop.ActionInvoked, Action: ActionDeny}, permission.Denied},
		{"body click", desktop.Event{ID: 42, Kind: desktop.ActionInvoked, Action: desktop.DefaultAction}, permission.Dismissed},
		{"closed", desktop.Event{ID: 42, Kind: desktop.NotificationClosed, Reason: desktop.ReasonExpired}, permission.Dismissed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bus := newFakeBus()
			bus.events <- desktop.Event{ID: 7, Kind: desktop.ActionInvoked, Action: ActionAllow}
			bus.events <- tc.ev
			got, err := Prompter{Bus: bus}.Request(testContext(t))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			require.Len(t, bus.notes, 1)
			assert.Equal(t, []string{ActionAllow, "Allow", ActionDeny, "Don't allow"}, bus.notes[0].Actions)
		})
	}
}

func TestPromptNotifyError(t *testing.T) {
	bus := newFakeBus()
	bus.err = errors.New("no server")
	got, err := Prompter{Bus: bus}.Request(testContext(t))
	assert.Error(t, err)
	assert.Equal(t, permission.Dismissed, got)
}

func TestPromptCancelled(t *testing.T) {
	bus := newFakeBus()
	ctx, cancel := context.WithTimeout(testContext(t), 20*time.Millisecond)
	defer cancel()
	got, err := Prompter{Bus: bus}.Request(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, permission.Dismissed, got)
	assert.Equal(t, []uint32{42}, bus.closed)
}

func TestAutoGrant(t *testing.T) {
	got, err := AutoGrant{}.Request(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, permission.Granted, got)
}

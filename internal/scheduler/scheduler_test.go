package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "empathai/pkg/logx"
)

func TestAddValidates(t *testing.T) {
	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add(Job{Name: "heartbeat", Spec: "@every 25s", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "prune", Spec: "0 3 * * *", Run: noop}))
	assert.ErrorIs(t, s.Add(Job{Name: "heartbeat", Spec: "@every 1m", Run: noop}), ErrDuplicate)
	assert.Error(t, s.Add(Job{Name: "bad", Spec: "every now and then", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "", Spec: "@daily", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "nil", Spec: "@daily"}))
}

func TestRunNowRecordsHistory(t *testing.T) {
	s := New(Config{HistorySize: 2}, logx.Nop())
	boom := errors.New("boom")
	fail := true
	require.NoError(t, s.Add(Job{Name: "j", Spec: "@hourly", Run: func(context.Context) error {
		if fail {
			return boom
		}
		return nil
	}}))

	assert.ErrorIs(t, s.RunNow(testContext(t), "j"), boom)
	fail = false
	assert.NoError(t, s.RunNow(testContext(t), "j"))
	assert.NoError(t, s.RunNow(testContext(t), "j"))
	assert.Error(t, s.RunNow(testContext(t), "missing"))

	h := s.History()
	require.Len(t, h, 2)
	assert.Empty(t, h[0].Error)
}

func TestJobTimeout(t *testing.T) {
	s := New(Config{DefaultTimeout: 20 * time.Millisecond}, logx.Nop())
	require.NoError(t, s.Add(Job{Name: "slow", Spec: "@hourly", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	assert.ErrorIs(t, s.RunNow(testContext(t), "slow"), context.DeadlineExceeded)
}

func TestScheduledJobRuns(t *testing.T) {
	s := New(Config{}, logx.Nop())
	var n atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1s", Run: func(context.Context) error {
		n.Add(1)
		return nil
	}}))
	require.NoError(t, s.Start(testContext(t)))
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return n.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Reschedule("tick", "@every 2s"))
	assert.Error(t, s.Reschedule("missing", "@every 2s"))
}

package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empathai/internal/permission"
	"empathai/internal/pipeline"
	"empathai/internal/prefs"
	"empathai/internal/presenter"
	"empathai/internal/source"
	"empathai/internal/source/sourcetest"
	"empathai/internal/support"
	logx "empathai/pkg/logx"
)

type captureStrategy struct {
	mu    sync.Mutex
	shown []presenter.Content
}

func (c *captureStrategy) Name() string { return "capture" }

func (c *captureStrategy) Show(_ context.Context, content presenter.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shown = append(c.shown, content)
	return nil
}

func (c *captureStrategy) all() []presenter.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]presenter.Content(nil), c.shown...)
}

type grantingPrompter struct{ n atomic.Int32 }

func (g *grantingPrompter) Request(context.Context) (permission.State, error) {
	g.n.Add(1)
	return permission.Granted, nil
}

type harness struct {
	fake     *sourcetest.Fake
	shown    *captureStrategy
	ctrl     *permission.Controller
	prompter *grantingPrompter
}

// newHarness wires a fake source through the listener group, the
// permission controller, the real support client against an endpoint that
// is down and a capturing presenter.
func newHarness(t *testing.T) *harness {
	t.Helper()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	endpoint := down.URL + "/api/trigger-support"
	down.Close()

	client := support.NewClient(support.ClientConfig{Endpoint: endpoint, Timeout: time.Second}, nil, logx.Nop())
	shown := &captureStrategy{}
	chain := presenter.NewChain("", logx.Nop(), shown)
	p := pipeline.New(pipeline.DefaultConfig(), nil, pipeline.Deps{Fetcher: client, Presenter: chain, Log: logx.Nop()})

	fake := sourcetest.New("fake")
	group := source.NewGroup(func(ctx context.Context, e source.Event) { p.Handle(ctx, e) },
		source.NewStatus(logx.Nop(), nil), logx.Nop(), fake)

	prompter := &grantingPrompter{}
	store := prefs.New(nil)
	ctrl := permission.NewController(permission.Config{}, permission.Deps{
		Prompter: prompter,
		Listener: group,
		Store:    store,
		Log:      logx.Nop(),
	})
	require.NoError(t, ctrl.Start(testContext(t)))
	t.Cleanup(func() { ctrl.Close(context.Background()) })

	require.NoError(t, ctrl.SetEnabled(testContext(t), true))
	require.Eventually(t, func() bool { return ctrl.Status().ListenerActive }, 2*time.Second, 5*time.Millisecond)
	return &harness{fake: fake, shown: shown, ctrl: ctrl, prompter: prompter}
}

func TestThreatTriggersHighFallbackNotification(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.fake.Emit(source.Event{Title: "Bank", Body: "someone is threatening to kill you"}))

	shown := h.shown.all()
	require.Len(t, shown, 1)
	got := shown[0]
	assert.Contains(t, got.Title, "High")
	assert.True(t, got.RequireInteraction)
	assert.Equal(t, support.FallbackText(got.Severity), got.Body)
	assert.Equal(t, presenter.Tag, got.Tag)
	assert.True(t, strings.HasPrefix(got.URL, "/chat?auto=true&msg="))
}

func TestMildRudenessIsNotPresented(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.fake.Emit(source.Event{Title: "App", Body: "that was kind of rude"}))
	assert.Empty(t, h.shown.all())
}

func TestPreferenceToggleGatesListener(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, int32(1), h.prompter.n.Load())

	require.NoError(t, h.ctrl.SetEnabled(testContext(t), false))
	assert.False(t, h.ctrl.Status().ListenerActive)
	assert.False(t, h.fake.Emit(source.Event{Title: "Bank", Body: "someone is threatening to kill you"}))
	assert.Empty(t, h.shown.all())

	require.NoError(t, h.ctrl.SetEnabled(testContext(t), true))
	assert.True(t, h.ctrl.Status().ListenerActive)
	assert.Equal(t, int32(1), h.prompter.n.Load(), "re-enable with Granted must not prompt")
	assert.Equal(t, 2, h.fake.Subscriptions())

	require.True(t, h.fake.Emit(source.Event{Title: "Bank", Body: "someone is threatening to kill you"}))
	assert.Len(t, h.shown.all(), 1)
}

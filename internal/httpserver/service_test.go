package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"empathai/internal/permission"
	logx "empathai/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	mu     sync.Mutex
	status permission.Status
	resets int
	err    error
}

func (f *fakeSettings) Status() permission.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSettings) SetEnabled(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.status.Enabled = on
	return nil
}

func (f *fakeSettings) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.status.State = permission.Unrequested
	return nil
}

func newTestServer(t *testing.T, cfg Config, rt Routes) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(cfg, rt, logx.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, hdr ...string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestSettingsToggle(t *testing.T) {
	fs := &fakeSettings{status: permission.Status{State: permission.Denied}}
	srv := newTestServer(t, Config{}, Routes{Settings: fs})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/settings/notifications", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view settingsView
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	assert.False(t, view.Enabled)
	assert.Equal(t, "denied", view.Permission)

	resp, body = do(t, http.MethodPut, srv.URL+"/api/settings/notifications", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	assert.True(t, view.Enabled)

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/settings/notifications", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/settings/notifications/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	assert.Equal(t, "unrequested", view.Permission)
	assert.Equal(t, 1, fs.resets)
}

func TestSettingsClosedController(t *testing.T) {
	fs := &fakeSettings{err: permission.ErrDisabled}
	srv := newTestServer(t, Config{}, Routes{Settings: fs})

	resp, _ := do(t, http.MethodPut, srv.URL+"/api/settings/notifications", `{"enabled":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTokenRequired(t *testing.T) {
	push := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	srv := newTestServer(t, Config{Token: "s3cret"}, Routes{Push: push})

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/notifications", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/notifications?token=wrong", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/notifications?token=s3cret", `{}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/notifications", `{}`, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestOptionalRoutesNotMounted(t *testing.T) {
	srv := newTestServer(t, Config{}, Routes{})

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	for _, p := range []string{"/api/notifications", "/api/trigger-support", "/api/status", "/debug/pprof/"} {
		resp, _ := do(t, http.MethodGet, srv.URL+p, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}
}

func TestStatusAndPprof(t *testing.T) {
	srv := newTestServer(t, Config{Pprof: true}, Routes{
		Status: func(context.Context) any { return map[string]string{"pipeline": "running"} },
	})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"pipeline":"running"}`, body)

	resp, _ = do(t, http.MethodGet, srv.URL+"/debug/pprof/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Routes{}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, body := do(t, http.MethodGet, "http://"+addr+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	assert.Nil(t, s.Supervisor())
	assert.Empty(t, s.Addr())
}

func TestInsecureBindRefused(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Routes{}, logx.Nop())
	err := s.serveOnce(context.Background())
	assert.ErrorIs(t, err, ErrInsecureBind)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:80"))
	assert.True(t, isLoopbackAddr("localhost:80"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":80"))
	assert.False(t, isLoopbackAddr("0.0.0.0:80"))
	assert.False(t, isLoopbackAddr("nonsense"))
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func call(t *testing.T, method, url, body string) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAppHandlesPushedThreat(t *testing.T) {
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reply":"You are not alone. Let's talk."}`))
	}))
	t.Cleanup(api.Close)

	path := writeConfig(t, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"support": {"endpoint": %q, "timeout": "2s"},
		"permission": {"prompter": "auto"},
		"presenter": {"direct_command": "true"},
		"sources": {"push": {"enabled": true}},
		"http": {"enabled": true, "addr": "127.0.0.1:0"},
		"storage": {"driver": "memory"}
	}`, api.URL))

	a, err := NewApp(path)
	require.NoError(t, err)
	require.Nil(t, a.worker)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopSignal)
	})

	require.Eventually(t, func() bool { return a.HTTPAddr() != "" }, 2*time.Second, 10*time.Millisecond)
	base := "http://" + a.HTTPAddr()

	assert.Equal(t, http.StatusServiceUnavailable,
		call(t, http.MethodPost, base+"/api/notifications", `{"title":"Bank","body":"hello"}`),
		"the listener stays off until notifications are enabled")

	require.Equal(t, http.StatusOK, call(t, http.MethodPut, base+"/api/settings/notifications", `{"enabled":true}`))
	require.Eventually(t, func() bool { return a.perm.Status().ListenerActive }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusAccepted,
		call(t, http.MethodPost, base+"/api/notifications", `{"title":"Bank","body":"someone is threatening to kill you"}`))

	require.Eventually(t, func() bool { return a.pipe.Stats().Presented == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())

	require.Eventually(t, func() bool {
		got, err := a.store.ListIncidents(context.Background(), 10)
		return err == nil && len(got) == 1
	}, 2*time.Second, 20*time.Millisecond)
	got, err := a.store.ListIncidents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "High", got[0].Severity)
	assert.Equal(t, "push", got[0].Source)
	assert.False(t, got[0].Fallback)

	st := a.Status(context.Background())
	assert.True(t, st.Sources["push"])
	assert.Contains(t, a.statusText(), "notifications on")
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `{"pipeline": {"min_tier": "urgent"}}`)
	_, err := NewApp(path)
	assert.Error(t, err)

	path = writeConfig(t, `{"unknown_section": {}}`)
	_, err = NewApp(path)
	assert.Error(t, err)
}

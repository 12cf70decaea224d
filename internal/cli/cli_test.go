package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(testContext(t))
	return out.String(), err
}

func fileStoreConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("storage:\n  driver: file\n  path: %s\n", filepath.Join(dir, "empathd"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestClassifyWithoutConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.json")

	out, err := execute(t, "", "-c", missing, "classify", "someone", "is", "threatening", "to", "kill", "you")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "High"), out)

	out, err = execute(t, "what a lovely day", "-c", missing, "classify")
	require.NoError(t, err)
	assert.Equal(t, "Low\n", out)
}

func TestClassifyJSON(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.json")
	out, err := execute(t, "", "-c", missing, "-f", "json", "classify", "stop", "trying", "to", "blackmail", "me")
	require.NoError(t, err)

	var res struct {
		Severity string   `json:"severity"`
		Hits     []string `json:"hits"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Medium", res.Severity)
	assert.Contains(t, res.Hits, "blackmail")
}

func TestPrefsRoundTrip(t *testing.T) {
	cfg := fileStoreConfig(t)

	_, err := execute(t, "", "-c", cfg, "prefs", "get", "notificationsEnabled")
	assert.Error(t, err)

	_, err = execute(t, "", "-c", cfg, "prefs", "set", "notificationsEnabled", "true")
	require.NoError(t, err)

	out, err := execute(t, "", "-c", cfg, "prefs", "get", "notificationsEnabled")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	_, err = execute(t, "", "-c", cfg, "prefs", "set", "empathai_voice", "robot")
	assert.Error(t, err)

	out, err = execute(t, "", "-c", cfg, "prefs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "notificationsEnabled=true")
	assert.Contains(t, out, "empathai_voice=(unset)")
}

func TestPrefsNeedStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := execute(t, "", "-c", path, "prefs", "list")
	assert.ErrorIs(t, err, errNoStorage)
}

func TestIncidentsEmpty(t *testing.T) {
	out, err := execute(t, "", "-c", fileStoreConfig(t), "incidents")
	require.NoError(t, err)
	assert.Equal(t, "no incidents\n", out)
}

func TestCheck(t *testing.T) {
	cfg := fileStoreConfig(t)
	out, err := execute(t, "", "-c", cfg, "check")
	require.NoError(t, err)
	assert.Contains(t, out, ": ok")

	bad := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"pipeline":{"relay_tier":"low"}}`), 0o600))
	_, err = execute(t, "", "-c", bad, "check")
	assert.Error(t, err)
}

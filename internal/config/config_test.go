package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
pipeline:
  min_tier: medium
  relay_tier: high
  ignore_apps: [EmpathAI]
support:
  endpoint: http://127.0.0.1:8000/api/trigger-support
  timeout: 5s
permission:
  max_retries: 3
  retry_delay: 1s
  prompter: auto
sources:
  push:
    enabled: true
telegram:
  token: secret
  chat_ids: [42]
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "medium", cfg.Pipeline.MinTier)
	assert.Equal(t, []string{"EmpathAI"}, cfg.Pipeline.IgnoreApps)
	require.NotNil(t, cfg.Permission.MaxRetries)
	assert.Equal(t, 3, *cfg.Permission.MaxRetries)
	assert.True(t, cfg.Sources.Push.Enabled)
	assert.Equal(t, []int64{42}, cfg.Telegram.ChatIDs)
	assert.Nil(t, cfg.Storage)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"pipeline":{"min_teir":"low"}}`))
	require.Error(t, err)

	_, err = Decode("config.yaml", []byte("bogus: 1\n"))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("config.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "file"
	env := map[string]string{
		EnvTelegramToken:   " from-env ",
		EnvSupportEndpoint: "http://backend/api/trigger-support",
	}
	applyEnv(cfg, func(k string) string { return env[k] })

	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "http://backend/api/trigger-support", cfg.Support.Endpoint)
	assert.Empty(t, cfg.HTTP.Token)
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	const key = "EMPATHD_TEST_DOTENV_VALUE"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	p := writeFile(t, ".env", key+"=hello\n")
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), "", p))
	assert.Equal(t, "hello", os.Getenv(key))
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg, err := Decode("a.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg, err := Decode("b.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)

	newCfg.Pipeline.MinTier = "low"
	newCfg.Telegram.Token = "rotated"
	newCfg.Sources.DBus.Enabled = true
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"pipeline", "sources", "telegram"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"sources", "telegram"}, NeedsRestart(changed))
}

func TestManagerReloadPublishesOnlyValidChanges(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	m.SetOverlay(func(c *Config) { c.HTTP.Token = "overlay" })
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "overlay", cfg.HTTP.Token)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx := context.Background()
	assert.False(t, m.reload(ctx), "unchanged content must not publish")

	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Pipeline.MinTier == "bogus" {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, os.WriteFile(p, []byte(sampleYAML+"\nrelay:\n  enabled: true\n"), 0o600))
	require.True(t, m.reload(ctx))

	select {
	case got := <-ch:
		assert.True(t, got.Relay.Enabled)
		assert.Same(t, got, m.Get())
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	bad := `{"pipeline":{"min_tier":"bogus"}}`
	require.NoError(t, os.WriteFile(p, []byte(bad), 0o600))
	assert.False(t, m.reload(ctx))
	assert.True(t, m.Get().Relay.Enabled)
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationOrDefault("support.timeout", "", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	_, err = ParseDurationField("support.timeout", "ten")
	require.ErrorContains(t, err, "support.timeout")

	_, err = ParseDurationField("support.timeout", "-1s")
	require.Error(t, err)
}

func TestParseDurationDays(t *testing.T) {
	d, err := ParseDurationField("notifier.dedup_window", "2d")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	_, err = ParseDurationField("notifier.dedup_window", "1.5d")
	assert.Error(t, err)
}

func TestDecodeYAMLEdgeCases(t *testing.T) {
	cfg, err := Decode("config.yml", []byte(""))
	require.NoError(t, err)
	assert.False(t, cfg.HTTP.Enabled)

	_, err = Decode("config.yaml", []byte("http:\n  enabled: true\n---\nhttp:\n  enabled: false\n"))
	assert.ErrorContains(t, err, "more than one yaml document")

	_, err = Decode("config.yaml", []byte("http: [unclosed\n"))
	assert.Error(t, err)
}

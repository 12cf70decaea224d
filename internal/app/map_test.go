package app

import (
	"testing"
	"time"

	"empathai/internal/config"
	"empathai/internal/presenter"
	"empathai/internal/severity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPipelineDefaultsAndSelfIgnore(t *testing.T) {
	pc, err := mapPipeline(&Config{})
	require.NoError(t, err)
	assert.Equal(t, severity.Medium, pc.MinTier)
	assert.Equal(t, severity.High, pc.RelayTier)
	assert.Equal(t, []string{presenter.AppName}, pc.IgnoreApps)

	pc, err = mapPipeline(&Config{Pipeline: config.PipelineConfig{IgnoreApps: []string{"empathai", "Slack"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"empathai", "Slack"}, pc.IgnoreApps)
}

func TestMapPipelineRejects(t *testing.T) {
	cases := map[string]config.PipelineConfig{
		"unknown tier":        {MinTier: "urgent"},
		"relay below minimum": {MinTier: "high", RelayTier: "medium"},
		"negative queue":      {QueueSize: -1},
		"negative rate":       {PresentRate: -1},
	}
	for name, pc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := mapPipeline(&Config{Pipeline: pc})
			assert.Error(t, err)
		})
	}
}

func TestMapClassifierOverlaysTiers(t *testing.T) {
	c, err := mapClassifier(&Config{Classifier: &config.ClassifierConfig{High: []string{"pineapple"}}})
	require.NoError(t, err)
	assert.Equal(t, severity.High, c.Classify("I found a pineapple"))
	assert.Equal(t, severity.Medium, c.Classify("stop trying to blackmail me"))
}

func TestMapPermission(t *testing.T) {
	pc, err := mapPermission(&Config{})
	require.NoError(t, err)
	assert.Equal(t, 3, pc.MaxRetries)
	assert.Equal(t, time.Minute, pc.RetryDelay)

	zero := 0
	pc, err = mapPermission(&Config{Permission: config.PermissionConfig{MaxRetries: &zero, RetryDelay: "5s"}})
	require.NoError(t, err)
	assert.Equal(t, 0, pc.MaxRetries)
	assert.Equal(t, 5*time.Second, pc.RetryDelay)

	_, err = mapPermission(&Config{Permission: config.PermissionConfig{Prompter: "popup"}})
	assert.Error(t, err)
}

func TestMapDirect(t *testing.T) {
	d, err := mapDirect(&Config{Presenter: config.PresenterConfig{DirectCommand: "none"}})
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = mapDirect(&Config{Presenter: config.PresenterConfig{DirectTimeout: "2s"}})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "notify-send", d.Command)
	assert.Equal(t, 2*time.Second, d.Timeout)
	assert.Equal(t, presenter.DefaultClickWait, d.ClickWait)
	assert.NotNil(t, d.Opener)

	off := false
	d, err = mapDirect(&Config{Presenter: config.PresenterConfig{DirectClicks: &off}})
	require.NoError(t, err)
	assert.Nil(t, d.Opener)

	_, err = mapDirect(&Config{Presenter: config.PresenterConfig{ClickWait: "whenever"}})
	assert.Error(t, err)
}

func TestMapNotifierRequiresTelegram(t *testing.T) {
	cfg := &Config{Relay: config.RelayConfig{Enabled: true}}
	_, err := mapNotifier(cfg)
	assert.ErrorContains(t, err, "telegram.token")

	cfg.Telegram.Token = "123:abc"
	_, err = mapNotifier(cfg)
	assert.ErrorContains(t, err, "telegram.chat_ids")

	cfg.Telegram.ChatIDs = []int64{42}
	cfg.Notifier = &config.NotifierConfig{Workers: 2, DedupWindow: "1m"}
	nc, err := mapNotifier(cfg)
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, 2, nc.Workers)
	assert.Equal(t, 64, nc.QueueSize)
	assert.Equal(t, time.Minute, nc.DedupWindow)
}

func TestMapStorage(t *testing.T) {
	_, enabled, err := mapStorage(&Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorage(&Config{Storage: &config.StorageConfig{Driver: "mem"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "memory", sc.Driver)

	_, _, err = mapStorage(&Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	assert.Error(t, err)

	sc, _, err = mapStorage(&Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "/tmp/x.db"}})
	require.NoError(t, err)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	_, _, err = mapStorage(&Config{Storage: &config.StorageConfig{Driver: "postgres"}})
	assert.Error(t, err)
}

func TestMapHTTPDefaults(t *testing.T) {
	hc, err := mapHTTP(&Config{HTTP: config.HTTPConfig{Enabled: true, Addr: " 127.0.0.1:9000 "}})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", hc.Addr)
	assert.Equal(t, 10*time.Second, hc.ReadTimeout)
	assert.Zero(t, hc.WriteTimeout)
	assert.Equal(t, time.Minute, hc.IdleTimeout)
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, validateConfig(&Config{}))

	assert.Error(t, validateConfig(nil))
	assert.Error(t, validateConfig(&Config{Logging: config.LoggingConfig{Level: "loud"}}))
	assert.Error(t, validateConfig(&Config{Worker: config.WorkerConfig{Heartbeat: "every so often"}}))
	assert.Error(t, validateConfig(&Config{Storage: &config.StorageConfig{Driver: "memory", PruneSchedule: "nope"}}))
	assert.Error(t, validateConfig(&Config{Sources: config.SourcesConfig{Bridge: config.BridgeSourceConfig{Enabled: true}}}))
	assert.Error(t, validateConfig(&Config{Support: config.SupportConfig{Timeout: "soon"}}))
}

func TestPruneDefaults(t *testing.T) {
	assert.Equal(t, DefaultMaxIncidents, maxIncidents(&Config{}))
	assert.Equal(t, DefaultPruneSchedule, pruneSchedule(&Config{}))

	cfg := &Config{Storage: &config.StorageConfig{MaxIncidents: 10, PruneSchedule: "@daily"}}
	assert.Equal(t, 10, maxIncidents(cfg))
	assert.Equal(t, "@daily", pruneSchedule(cfg))
}

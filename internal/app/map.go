package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"empathai/internal/clients"
	"empathai/internal/config"
	"empathai/internal/httpserver"
	"empathai/internal/notifier"
	"empathai/internal/permission"
	"empathai/internal/pipeline"
	"empathai/internal/presenter"
	"empathai/internal/scheduler"
	"empathai/internal/severity"
	"empathai/internal/storage"
	"empathai/internal/support"
	"empathai/internal/transport/telegram"
	logx "empathai/pkg/logx"
)

type (
	Config        = config.Config
	ConfigManager = config.ConfigManager
)

var (
	NewConfigManager      = config.NewConfigManager
	SummarizeConfigChange = config.SummarizeConfigChange

	parseDurationField     = config.ParseDurationField
	parseDurationOrDefault = config.ParseDurationOrDefault
)

const (
	DefaultMaxIncidents  = 1000
	DefaultPruneSchedule = "@hourly"
)

func mapLogging(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func parseTierOr(path, raw string, def severity.Tier) (severity.Tier, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	t, err := severity.ParseTier(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// mapPipeline always ignores the daemon's own notifications.
func mapPipeline(cfg *Config) (pipeline.Config, error) {
	pc := pipeline.DefaultConfig()
	var err error
	if pc.MinTier, err = parseTierOr("pipeline.min_tier", cfg.Pipeline.MinTier, pc.MinTier); err != nil {
		return pc, err
	}
	if pc.RelayTier, err = parseTierOr("pipeline.relay_tier", cfg.Pipeline.RelayTier, pc.RelayTier); err != nil {
		return pc, err
	}
	if pc.RelayTier < pc.MinTier {
		return pc, fmt.Errorf("pipeline.relay_tier (%s) must not be below pipeline.min_tier (%s)", pc.RelayTier, pc.MinTier)
	}
	if cfg.Pipeline.QueueSize < 0 {
		return pc, fmt.Errorf("pipeline.queue_size must be >= 0")
	}
	if cfg.Pipeline.QueueSize > 0 {
		pc.QueueSize = cfg.Pipeline.QueueSize
	}
	if cfg.Pipeline.PresentRate < 0 || cfg.Pipeline.PresentBurst < 0 {
		return pc, fmt.Errorf("pipeline.present_rate and pipeline.present_burst must be >= 0")
	}
	pc.PresentRate = cfg.Pipeline.PresentRate
	pc.PresentBurst = cfg.Pipeline.PresentBurst
	pc.IgnoreApps = ignoreApps(cfg)
	return pc, nil
}

func ignoreApps(cfg *Config) []string {
	apps := slices.Clone(cfg.Pipeline.IgnoreApps)
	if !slices.ContainsFunc(apps, func(a string) bool { return strings.EqualFold(a, presenter.AppName) }) {
		apps = append(apps, presenter.AppName)
	}
	return apps
}

// mapClassifier overlays configured keyword lists on the defaults tier by
// tier.
func mapClassifier(cfg *Config) (*severity.Classifier, error) {
	if cfg.Classifier == nil {
		return severity.Default(), nil
	}
	kw := severity.DefaultKeywords()
	if len(cfg.Classifier.High) > 0 {
		kw.High = cfg.Classifier.High
	}
	if len(cfg.Classifier.Medium) > 0 {
		kw.Medium = cfg.Classifier.Medium
	}
	if len(cfg.Classifier.Low) > 0 {
		kw.Low = cfg.Classifier.Low
	}
	c, err := severity.NewClassifier(kw)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return c, nil
}

func mapSupport(cfg *Config) (support.ClientConfig, error) {
	timeout, err := parseDurationOrDefault("support.timeout", cfg.Support.Timeout, support.DefaultTimeout)
	if err != nil {
		return support.ClientConfig{}, err
	}
	return support.ClientConfig{
		Endpoint: strings.TrimSpace(cfg.Support.Endpoint),
		Timeout:  timeout,
		UserID:   strings.TrimSpace(cfg.Support.UserID),
	}, nil
}

func mapPermission(cfg *Config) (permission.Config, error) {
	delay, err := parseDurationOrDefault("permission.retry_delay", cfg.Permission.RetryDelay, permission.DefaultRetryDelay)
	if err != nil {
		return permission.Config{}, err
	}
	retries := permission.DefaultMaxRetries
	if cfg.Permission.MaxRetries != nil {
		if *cfg.Permission.MaxRetries < 0 {
			return permission.Config{}, fmt.Errorf("permission.max_retries must be >= 0")
		}
		retries = *cfg.Permission.MaxRetries
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Permission.Prompter)) {
	case "", "dbus", "auto":
	default:
		return permission.Config{}, fmt.Errorf("permission.prompter: unknown %q", cfg.Permission.Prompter)
	}
	return permission.Config{MaxRetries: retries, RetryDelay: delay}, nil
}

func mapDirect(cfg *Config) (*presenter.Direct, error) {
	cmd := strings.TrimSpace(cfg.Presenter.DirectCommand)
	if strings.EqualFold(cmd, "none") {
		return nil, nil
	}
	d := presenter.NewDirect(cmd)
	timeout, err := parseDurationOrDefault("presenter.direct_timeout", cfg.Presenter.DirectTimeout, d.Timeout)
	if err != nil {
		return nil, err
	}
	d.Timeout = timeout
	if cfg.Presenter.DirectClicks != nil && !*cfg.Presenter.DirectClicks {
		return d, nil
	}
	wait, err := parseDurationOrDefault("presenter.click_wait", cfg.Presenter.ClickWait, d.ClickWait)
	if err != nil {
		return nil, err
	}
	d.ClickWait = wait
	d.Opener = clients.CommandOpener{Command: cfg.Worker.Opener, BaseURL: cfg.Support.BaseURL}
	return d, nil
}

func mapNotifier(cfg *Config) (notifier.Config, error) {
	nc := notifier.Config{
		Enabled:         cfg.Relay.Enabled,
		Workers:         1,
		QueueSize:       64,
		RatePerSec:      1,
		RetryMax:        3,
		DedupMaxEntries: 500,
	}
	n := cfg.Notifier
	if n == nil {
		n = &config.NotifierConfig{}
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return nc, fmt.Errorf("notifier: counts must be >= 0")
	}
	if n.Workers > 0 {
		nc.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		nc.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		nc.RatePerSec = n.RatePerSec
	}
	if n.RetryMax > 0 {
		nc.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries > 0 {
		nc.DedupMaxEntries = n.DedupMaxEntries
	}
	nc.PersistDedup = n.PersistDedup

	var err error
	if nc.RetryBase, err = parseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return nc, err
	}
	if nc.RetryMaxDelay, err = parseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return nc, err
	}
	if nc.SendTimeout, err = parseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 10*time.Second); err != nil {
		return nc, err
	}
	if nc.DedupWindow, err = parseDurationOrDefault("notifier.dedup_window", n.DedupWindow, 10*time.Minute); err != nil {
		return nc, err
	}
	if nc.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nc, fmt.Errorf("relay.enabled requires telegram.token")
	}
	if nc.Enabled && len(cfg.Telegram.ChatIDs) == 0 {
		return nc, fmt.Errorf("relay.enabled requires telegram.chat_ids")
	}
	return nc, nil
}

func mapTelegram(cfg *Config) (telegram.Config, bool, error) {
	poll, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	tok := strings.TrimSpace(cfg.Telegram.Token)
	return telegram.Config{
		Token:       tok,
		PollTimeout: poll,
		ChatIDs:     slices.Clone(cfg.Telegram.ChatIDs),
		Commands:    cfg.Telegram.Commands,
	}, tok != "", nil
}

func mapHTTP(cfg *Config) (httpserver.Config, error) {
	h := cfg.HTTP
	out := httpserver.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
	}
	var err error
	if out.ReadTimeout, err = parseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	// Zero write timeout keeps long-lived worker sockets and profiles open.
	if out.WriteTimeout, err = parseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = parseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

// mapStorage returns enabled=false when storage is omitted or "none".
func mapStorage(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if sc.MaxIncidents < 0 {
		return storage.Config{}, false, fmt.Errorf("storage.max_incidents must be >= 0")
	}
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, true, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func maxIncidents(cfg *Config) int {
	if cfg.Storage == nil || cfg.Storage.MaxIncidents <= 0 {
		return DefaultMaxIncidents
	}
	return cfg.Storage.MaxIncidents
}

func pruneSchedule(cfg *Config) string {
	if cfg.Storage == nil || strings.TrimSpace(cfg.Storage.PruneSchedule) == "" {
		return DefaultPruneSchedule
	}
	return strings.TrimSpace(cfg.Storage.PruneSchedule)
}

// validateConfig is run on load and before every hot reload is committed.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, ok := logx.ParseLevel(cfg.Logging.Level); !ok && strings.TrimSpace(cfg.Logging.Level) != "" {
		return fmt.Errorf("logging.level: unknown %q", cfg.Logging.Level)
	}
	if _, err := mapPipeline(cfg); err != nil {
		return err
	}
	if _, err := mapClassifier(cfg); err != nil {
		return err
	}
	if _, err := mapSupport(cfg); err != nil {
		return err
	}
	if _, err := mapPermission(cfg); err != nil {
		return err
	}
	if _, err := mapDirect(cfg); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegram(cfg); err != nil {
		return err
	}
	if _, err := mapHTTP(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorage(cfg); err != nil {
		return err
	}
	if cfg.Sources.Bridge.Enabled && strings.TrimSpace(cfg.Sources.Bridge.Command) == "" {
		return fmt.Errorf("sources.bridge.command is required when the bridge is enabled")
	}
	check := scheduler.New(scheduler.Config{}, logx.Nop())
	if hb := strings.TrimSpace(cfg.Worker.Heartbeat); hb != "" {
		if err := check.Validate(hb); err != nil {
			return fmt.Errorf("worker.heartbeat: %w", err)
		}
	}
	if err := check.Validate(pruneSchedule(cfg)); err != nil {
		return fmt.Errorf("storage.prune_schedule: %w", err)
	}
	return nil
}

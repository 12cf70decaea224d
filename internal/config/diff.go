package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "empathai/pkg/logx"
)

// coldSections are only read at startup; a change is logged and waits for a
// restart.
var coldSections = []string{"sources", "storage", "worker", "presenter", "telegram"}

// SummarizeConfigChange returns the changed top-level sections and log
// fields describing the new values. Tokens are reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		p := newCfg.Pipeline
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.String("pipeline.min_tier", p.MinTier),
			logx.String("pipeline.relay_tier", p.RelayTier),
			logx.Int("pipeline.queue_size", p.QueueSize),
			logx.Any("pipeline.present_rate", p.PresentRate),
			logx.Int("pipeline.ignore_apps", len(p.IgnoreApps)),
		)
	}

	if !reflect.DeepEqual(derefClassifier(oldCfg.Classifier), derefClassifier(newCfg.Classifier)) {
		c := derefClassifier(newCfg.Classifier)
		changed = append(changed, "classifier")
		attrs = append(attrs,
			logx.Int("classifier.high", len(c.High)),
			logx.Int("classifier.medium", len(c.Medium)),
			logx.Int("classifier.low", len(c.Low)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Support, newCfg.Support) {
		changed = append(changed, "support")
		attrs = append(attrs,
			logx.String("support.endpoint", strings.TrimSpace(newCfg.Support.Endpoint)),
			logx.String("support.timeout", strings.TrimSpace(newCfg.Support.Timeout)),
			logx.Bool("support.user_id_set", strings.TrimSpace(newCfg.Support.UserID) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Permission, newCfg.Permission) {
		changed = append(changed, "permission")
		retries := -1
		if newCfg.Permission.MaxRetries != nil {
			retries = *newCfg.Permission.MaxRetries
		}
		attrs = append(attrs,
			logx.Int("permission.max_retries", retries),
			logx.String("permission.retry_delay", newCfg.Permission.RetryDelay),
			logx.String("permission.prompter", newCfg.Permission.Prompter),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs,
			logx.Bool("sources.dbus", newCfg.Sources.DBus.Enabled),
			logx.Bool("sources.bridge", newCfg.Sources.Bridge.Enabled),
			logx.Bool("sources.push", newCfg.Sources.Push.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Presenter, newCfg.Presenter) {
		changed = append(changed, "presenter")
		attrs = append(attrs, logx.String("presenter.direct_command", newCfg.Presenter.DirectCommand))
	}

	if !reflect.DeepEqual(oldCfg.Worker, newCfg.Worker) {
		changed = append(changed, "worker")
		attrs = append(attrs,
			logx.Bool("worker.enabled", newCfg.Worker.Enabled),
			logx.String("worker.heartbeat", newCfg.Worker.Heartbeat),
			logx.Bool("worker.watchdog", newCfg.Worker.Watchdog),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	nTok := strings.TrimSpace(nh.Token) != ""
	if !reflect.DeepEqual(oh, nh) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", nTok),
			logx.Bool("http.allow_insecure", nh.AllowInsecure),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	// Nil storage means disabled.
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var s StorageConfig
		if newCfg.Storage != nil {
			s = *newCfg.Storage
		}
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(s.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
			logx.Int("storage.max_incidents", s.MaxIncidents),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		var n NotifierConfig
		if newCfg.Notifier != nil {
			n = *newCfg.Notifier
		}
		attrs = append(attrs,
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.queue_size", n.QueueSize),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Int("notifier.retry_max", n.RetryMax),
			logx.Bool("notifier.persist_dedup", n.PersistDedup),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs, logx.Bool("relay.enabled", newCfg.Relay.Enabled))
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token) ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.ChatIDs, nt.ChatIDs) ||
		ot.Commands != nt.Commands {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int("telegram.chat_count", len(nt.ChatIDs)),
			logx.Bool("telegram.commands", nt.Commands),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart filters changed down to the sections that are not hot
// reloadable.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if slices.Contains(coldSections, s) {
			out = append(out, s)
		}
	}
	return out
}

func derefClassifier(c *ClassifierConfig) ClassifierConfig {
	if c == nil {
		return ClassifierConfig{}
	}
	return *c
}

package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "empathai/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	reloadDebounce    = 250 * time.Millisecond
	validateTimeout   = 5 * time.Second
	watchBackoffBase  = 250 * time.Millisecond
	watchBackoffLimit = 5 * time.Second
)

// ConfigManager owns the committed config and republishes it when the file
// changes on disk.
type ConfigManager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	// subsMu is held while sending so Unsubscribe never closes a channel
	// mid-send.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
	env       func(*Config)
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop()}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the check Watch runs before a reload is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// SetOverlay installs a hook applied to every parsed config, used for
// environment overrides.
func (m *ConfigManager) SetOverlay(fn func(*Config)) { m.env = fn }

// Parse reads and strictly decodes the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, b)
	if err != nil {
		return nil, err
	}
	if m.env != nil {
		m.env(cfg)
	}
	return cfg, nil
}

// Decode parses data as JSON, or as YAML when name ends in .yaml/.yml.
// Unknown fields and trailing documents are errors.
func Decode(name string, data []byte) (*Config, error) {
	jb := data
	if isYAML(name) {
		var err error
		if jb, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	h := hashConfig(cfg)
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = h
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		last := len(m.subs) - 1
		m.subs[i] = m.subs[last]
		m.subs[last] = nil
		m.subs = m.subs[:last]
		close(ch)
		return
	}
}

// publish delivers cfg to every subscriber. A full subscriber loses its
// oldest pending config so the newest one always fits.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped", logx.Int("queue_len", len(ch)), logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload parses, validates, commits and publishes. It reports whether a new
// config went out.
func (m *ConfigManager) reload(ctx context.Context) bool {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return false
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return false
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return false
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
	return true
}

// Watch follows the config file until ctx ends. Editors that replace the
// file are handled by watching the parent directory. A broken watcher is
// recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() { m.reload(ctx) })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := watchBackoffBase
	sleep := func(reason string, err error) bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, watchBackoffLimit)
		m.log.Warn(reason, logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			if !sleep("config watch init failed", err) {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			if !sleep("config watch add failed", err) {
				return nil
			}
			continue
		}
		backoff = watchBackoffBase
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		err = m.follow(ctx, w, file, schedule)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !sleep("config watcher stopped", err) {
			return nil
		}
	}
	return nil
}

// follow consumes watcher events until ctx ends or the watcher breaks.
func (m *ConfigManager) follow(ctx context.Context, w *fsnotify.Watcher, file string, schedule func()) error {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&relevant != 0 {
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "overflow") {
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				schedule()
				continue
			}
			if strings.Contains(msg, "closed") {
				return err
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

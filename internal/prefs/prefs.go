// Package prefs exposes typed user preferences on top of storage.Store.
package prefs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"empathai/internal/permission"
	"empathai/internal/storage"
)

// Keys shared with the web build's local settings.
const (
	KeyNotificationsEnabled   = "notificationsEnabled"
	KeyTTS                    = "empathai_tts"
	KeyVoice                  = "empathai_voice"
	KeyMonitoring             = "empathai_monitoring"
	KeyNotificationPermission = "notification_permission"
)

const DefaultVoice = "female"

var knownKeys = map[string]bool{
	KeyNotificationsEnabled:   true,
	KeyTTS:                    true,
	KeyVoice:                  true,
	KeyMonitoring:             true,
	KeyNotificationPermission: true,
}

// Known reports whether key is a recognised preference.
func Known(key string) bool { return knownKeys[key] }

// Keys lists every recognised preference key.
func Keys() []string {
	return []string{KeyNotificationsEnabled, KeyTTS, KeyVoice, KeyMonitoring, KeyNotificationPermission}
}

// Prefs wraps a Store. A nil Store keeps values in memory.
type Prefs struct {
	st storage.Store

	mu  sync.Mutex
	mem map[string]string
}

func New(st storage.Store) *Prefs {
	return &Prefs{st: st, mem: map[string]string{}}
}

func (p *Prefs) Get(ctx context.Context, key string) (string, bool, error) {
	if p.st == nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		v, ok := p.mem[key]
		return v, ok, nil
	}
	return p.st.GetPref(ctx, key)
}

func (p *Prefs) Set(ctx context.Context, key, value string) error {
	if !Known(key) {
		return fmt.Errorf("prefs: unknown key %q", key)
	}
	if err := validate(key, value); err != nil {
		return err
	}
	if p.st == nil {
		p.mu.Lock()
		p.mem[key] = value
		p.mu.Unlock()
		return nil
	}
	return p.st.SetPref(ctx, key, value)
}

func validate(key, value string) error {
	switch key {
	case KeyNotificationsEnabled, KeyTTS, KeyMonitoring:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("prefs: %s must be true or false", key)
		}
	case KeyVoice:
		if v := strings.ToLower(value); v != "female" && v != "male" {
			return fmt.Errorf("prefs: %s must be female or male", key)
		}
	case KeyNotificationPermission:
		if _, err := permission.ParseState(value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Prefs) boolPref(ctx context.Context, key string) (bool, error) {
	v, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return v == "true", nil
}

// NotificationsEnabled is false until the user turns it on.
func (p *Prefs) NotificationsEnabled(ctx context.Context) (bool, error) {
	return p.boolPref(ctx, KeyNotificationsEnabled)
}

func (p *Prefs) SetNotificationsEnabled(ctx context.Context, on bool) error {
	return p.Set(ctx, KeyNotificationsEnabled, strconv.FormatBool(on))
}

func (p *Prefs) TTS(ctx context.Context) (bool, error) { return p.boolPref(ctx, KeyTTS) }

func (p *Prefs) Voice(ctx context.Context) (string, error) {
	v, ok, err := p.Get(ctx, KeyVoice)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return DefaultVoice, nil
	}
	return v, nil
}

func (p *Prefs) LoadPermission(ctx context.Context) (permission.State, error) {
	v, _, err := p.Get(ctx, KeyNotificationPermission)
	if err != nil {
		return permission.Unrequested, err
	}
	s, err := permission.ParseState(v)
	if err != nil {
		// A corrupt value behaves like a fresh install.
		return permission.Unrequested, nil
	}
	return s, nil
}

func (p *Prefs) SavePermission(ctx context.Context, s permission.State) error {
	return p.Set(ctx, KeyNotificationPermission, s.String())
}

var _ permission.Store = (*Prefs)(nil)

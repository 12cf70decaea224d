// Package permission owns the notification-permission state machine and the
// listener activation that depends on it.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the notification-permission decision.
type State int

const (
	Unrequested State = iota
	Granted
	Denied
	Dismissed
)

func (s State) String() string {
	switch s {
	case Unrequested:
		return "unrequested"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Dismissed:
		return "dismissed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unrequested", "default":
		return Unrequested, nil
	case "granted":
		return Granted, nil
	case "denied":
		return Denied, nil
	case "dismissed":
		return Dismissed, nil
	default:
		return Unrequested, fmt.Errorf("permission: unknown state %q", s)
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var (
	ErrPromptPending = errors.New("permission: prompt already pending")
	ErrDisabled      = errors.New("permission: notifications disabled")
	ErrDenied        = errors.New("permission: denied by user")
)

// Prompter asks the user for notification permission. It returns Granted,
// Denied or Dismissed.
type Prompter interface {
	Request(ctx context.Context) (State, error)
}

// Listener is the notification listener gated by the controller.
type Listener interface {
	Activate(ctx context.Context) error
	Deactivate()
}

// Store persists the permission decision and the user's preference toggle.
type Store interface {
	LoadPermission(ctx context.Context) (State, error)
	SavePermission(ctx context.Context, s State) error
	NotificationsEnabled(ctx context.Context) (bool, error)
	SetNotificationsEnabled(ctx context.Context, on bool) error
}

// Timer is the subset of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// Clock schedules retries. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock returns a Clock backed by time.AfterFunc.
func RealClock() Clock { return realClock{} }

// NoticeKind classifies short user-facing messages.
type NoticeKind string

const (
	NoticeGranted  NoticeKind = "granted"
	NoticeDenied   NoticeKind = "denied"
	NoticeReminder NoticeKind = "reminder"
	NoticeDisabled NoticeKind = "disabled"
	NoticeExpired  NoticeKind = "retries_exhausted"
)

var noticeText = map[NoticeKind]string{
	NoticeGranted:  "🔔 Notifications enabled — EmpathAI is watching out for you 💜",
	NoticeDenied:   "⚠️ Notifications are blocked — please enable them in your system settings.",
	NoticeReminder: "🔔 Reminder: EmpathAI needs notification access to protect you.",
	NoticeDisabled: "🔕 Notifications disabled.",
	NoticeExpired:  "ℹ️ You dismissed the prompt — you can enable notifications anytime.",
}

// NoticeText returns the message shown for kind.
func NoticeText(kind NoticeKind) string { return noticeText[kind] }

// Notifier shows short user-facing messages.
type Notifier interface {
	Notice(ctx context.Context, kind NoticeKind, text string)
}

// Status is a point-in-time view of the controller.
type Status struct {
	State          State `json:"state"`
	Enabled        bool  `json:"enabled"`
	ListenerActive bool  `json:"listener_active"`
	Retries        int   `json:"retries"`
	PromptPending  bool  `json:"prompt_pending"`
	RetryScheduled bool  `json:"retry_scheduled"`
}

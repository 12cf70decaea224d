// Package dbusmon observes every desktop notification on the session bus by
// becoming a D-Bus monitor for org.freedesktop.Notifications.Notify calls.
package dbusmon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"empathai/internal/source"
	logx "empathai/pkg/logx"
)

const (
	Name = "dbus"

	notificationsInterface = "org.freedesktop.Notifications"
	notifyMember           = "Notify"
	becomeMonitorMethod    = "org.freedesktop.DBus.Monitoring.BecomeMonitor"
)

// MatchRule selects Notify calls from any sender.
const MatchRule = "type='method_call',interface='" + notificationsInterface + "',member='" + notifyMember + "'"

type Config struct {
	// IgnoreApps lists app names whose notifications are never forwarded.
	// The daemon's own app name belongs here so presented support
	// notifications do not feed back into the pipeline.
	IgnoreApps []string
	Buffer     int
}

// Dialer opens a private session bus connection.
type Dialer func() (*dbus.Conn, error)

type Monitor struct {
	cfg  Config
	dial Dialer
	log  logx.Logger
	now  func() time.Time
}

func New(cfg Config, log logx.Logger) *Monitor {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		cfg:  cfg,
		dial: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() },
		log:  log.With(logx.String("source", Name)),
		now:  time.Now,
	}
}

// WithDialer swaps the bus connection factory.
func (m *Monitor) WithDialer(d Dialer) *Monitor {
	if d != nil {
		m.dial = d
	}
	return m
}

func (m *Monitor) Name() string { return Name }

func (m *Monitor) Subscribe(ctx context.Context, h source.Handler) (func(), error) {
	conn, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	ch := make(chan *dbus.Message, m.cfg.Buffer)
	conn.Eavesdrop(ch)

	call := conn.BusObject().CallWithContext(ctx, becomeMonitorMethod, 0, []string{MatchRule}, uint32(0))
	if call.Err != nil {
		_ = conn.Close()
		return nil, classifyMonitorError(call.Err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.loop(runCtx, ch, h)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = conn.Close()
			wg.Wait()
		})
	}, nil
}

func classifyMonitorError(err error) error {
	var de dbus.Error
	if errors.As(err, &de) && strings.HasSuffix(de.Name, "AccessDenied") {
		return fmt.Errorf("%w: %v", source.ErrAccessDenied, err)
	}
	return fmt.Errorf("become monitor: %w", err)
}

func (m *Monitor) loop(ctx context.Context, ch <-chan *dbus.Message, h source.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.dispatch(ctx, msg, h)
		}
	}
}

func (m *Monitor) dispatch(ctx context.Context, msg *dbus.Message, h source.Handler) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("notification dispatch panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	ev, ok, err := ParseNotify(msg)
	if err != nil {
		m.log.Debug("skip malformed notify call", logx.Err(err))
		return
	}
	if !ok || m.ignored(ev.SourceApp) {
		return
	}
	ev.ReceivedAt = m.now()
	ev.Origin = Name
	h(ctx, ev)
}

func (m *Monitor) ignored(app string) bool {
	for _, a := range m.cfg.IgnoreApps {
		if strings.EqualFold(a, app) {
			return true
		}
	}
	return false
}

// ParseNotify extracts app name, summary and body from a Notify method
// call. ok is false for any other message.
//
// Notify signature: (s app_name, u replaces_id, s app_icon, s summary,
// s body, as actions, a{sv} hints, i expire_timeout).
func ParseNotify(msg *dbus.Message) (ev source.Event, ok bool, err error) {
	if msg == nil || msg.Type != dbus.TypeMethodCall {
		return ev, false, nil
	}
	if headerString(msg, dbus.FieldInterface) != notificationsInterface ||
		headerString(msg, dbus.FieldMember) != notifyMember {
		return ev, false, nil
	}
	if len(msg.Body) < 5 {
		return ev, false, fmt.Errorf("notify body has %d fields", len(msg.Body))
	}
	app, ok1 := msg.Body[0].(string)
	summary, ok2 := msg.Body[3].(string)
	body, ok3 := msg.Body[4].(string)
	if !ok1 || !ok2 || !ok3 {
		return ev, false, errors.New("notify body has unexpected types")
	}
	return source.Event{SourceApp: app, Title: summary, Body: body}, true, nil
}

func headerString(msg *dbus.Message, f dbus.HeaderField) string {
	v, ok := msg.Headers[f]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// Package desktop talks to the freedesktop notification server over the
// session bus.
package desktop

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	logx "empathai/pkg/logx"
)

const (
	busName   = "org.freedesktop.Notifications"
	objPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	iface     = "org.freedesktop.Notifications"
	sigAction = iface + ".ActionInvoked"
	sigClosed = iface + ".NotificationClosed"

	// DefaultAction is the action key servers invoke on a body click.
	DefaultAction = "default"
)

// Close reasons reported by NotificationClosed.
const (
	ReasonExpired   uint32 = 1
	ReasonDismissed uint32 = 2
	ReasonClosed    uint32 = 3
	ReasonUndefined uint32 = 4
)

type EventKind string

const (
	ActionInvoked      EventKind = "action"
	NotificationClosed EventKind = "closed"
)

// Event is a notification server signal.
type Event struct {
	ID     uint32
	Kind   EventKind
	Action string
	Reason uint32
}

// Notification is the Notify call payload.
type Notification struct {
	AppName    string
	ReplacesID uint32
	Icon       string
	Summary    string
	Body       string
	// Actions alternates keys and labels.
	Actions []string
	Urgency byte
	// Timeout in milliseconds; 0 never expires, -1 server default.
	Timeout  int32
	Category string
}

func (n Notification) hints() map[string]dbus.Variant {
	h := map[string]dbus.Variant{"urgency": dbus.MakeVariant(n.Urgency)}
	if n.Category != "" {
		h["category"] = dbus.MakeVariant(n.Category)
	}
	return h
}

// Client wraps one session bus connection. Signals are fanned out to every
// subscriber.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	log  logx.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	done   chan struct{}
	once   sync.Once
}

// Connect opens a private session bus connection and starts signal
// delivery.
func Connect(log logx.Logger) (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	c, err := newClient(conn, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func newClient(conn *dbus.Conn, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(objPath),
		dbus.WithMatchInterface(iface),
	)
	if err != nil {
		return nil, fmt.Errorf("add signal match: %w", err)
	}
	c := &Client{
		conn: conn,
		obj:  conn.Object(busName, objPath),
		log:  log,
		subs: map[int]chan Event{},
		done: make(chan struct{}),
	}
	ch := make(chan *dbus.Signal, 32)
	conn.Signal(ch)
	go c.pump(ch)
	return c, nil
}

func (c *Client) pump(ch <-chan *dbus.Signal) {
	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if ev, ok := ParseSignal(sig); ok {
				c.fanout(ev)
			}
		}
	}
}

func (c *Client) fanout(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		select {
		case s <- ev:
		default:
			c.log.Warn("desktop signal dropped", logx.Int64("id", int64(ev.ID)))
		}
	}
}

// Subscribe returns a channel of server signals.
func (c *Client) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) Notify(ctx context.Context, n Notification) (uint32, error) {
	actions := n.Actions
	if actions == nil {
		actions = []string{}
	}
	var id uint32
	call := c.obj.CallWithContext(ctx, iface+".Notify", 0,
		n.AppName, n.ReplacesID, n.Icon, n.Summary, n.Body, actions, n.hints(), n.Timeout)
	if call.Err != nil {
		return 0, fmt.Errorf("notify: %w", call.Err)
	}
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("notify reply: %w", err)
	}
	return id, nil
}

func (c *Client) CloseNotification(ctx context.Context, id uint32) error {
	if call := c.obj.CallWithContext(ctx, iface+".CloseNotification", 0, id); call.Err != nil {
		return fmt.Errorf("close notification %d: %w", id, call.Err)
	}
	return nil
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ParseSignal converts ActionInvoked and NotificationClosed signals.
func ParseSignal(sig *dbus.Signal) (Event, bool) {
	if sig == nil || len(sig.Body) < 2 {
		return Event{}, false
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return Event{}, false
	}
	switch sig.Name {
	case sigAction:
		action, ok := sig.Body[1].(string)
		if !ok {
			return Event{}, false
		}
		return Event{ID: id, Kind: ActionInvoked, Action: action}, true
	case sigClosed:
		reason, ok := sig.Body[1].(uint32)
		if !ok {
			return Event{}, false
		}
		return Event{ID: id, Kind: NotificationClosed, Reason: reason}, true
	}
	return Event{}, false
}

// Package clients tracks open app pages connected over WebSocket so the
// background worker can focus or navigate them.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	logx "empathai/pkg/logx"
)

var (
	ErrUnknownClient = errors.New("clients: unknown client")
	ErrSendQueueFull = errors.New("clients: send queue full")
)

// Command types sent to pages.
const (
	CmdFocus    = "focus"
	CmdNavigate = "navigate"
	CmdClaim    = "claim"
	CmdEvent    = "event"
)

// Message types received from pages.
const (
	MsgLocation = "location"
	MsgPush     = "push"
	MsgPing     = "ping"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 64 << 10
)

// Command is written to a page.
type Command struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Message is read from a page.
type Message struct {
	Type string          `json:"type"`
	URL  string          `json:"url,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Info is a snapshot of one client.
type Info struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Controlled  bool      `json:"controlled"`
	ConnectedAt time.Time `json:"connected_at"`
}

// MessageFunc handles page messages other than location updates and pings.
type MessageFunc func(ctx context.Context, clientID string, m Message)

type client struct {
	id   string
	conn *websocket.Conn
	send chan Command

	mu         sync.Mutex
	url        string
	controlled bool
	since      time.Time
}

func (c *client) info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{ID: c.id, URL: c.url, Controlled: c.controlled, ConnectedAt: c.since}
}

type Hub struct {
	log       logx.Logger
	upgrader  websocket.Upgrader
	onMessage MessageFunc

	mu      sync.RWMutex
	clients map[string]*client
	claimed bool
}

func NewHub(log logx.Logger) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: map[string]*client{},
	}
}

// OnMessage installs the page message handler. Call before serving.
func (h *Hub) OnMessage(fn MessageFunc) { h.onMessage = fn }

// Claim takes control of every open client without waiting for them to
// navigate. Clients connecting later are controlled on arrival.
func (h *Hub) Claim() int {
	h.mu.Lock()
	h.claimed = true
	list := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	h.mu.Unlock()
	for _, c := range list {
		c.mu.Lock()
		c.controlled = true
		c.mu.Unlock()
		h.enqueue(c, Command{Type: CmdClaim})
	}
	return len(list)
}

// List returns clients ordered by connection time.
func (h *Hub) List() []Info {
	h.mu.RLock()
	out := make([]Info, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.info())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Find returns the first client whose URL contains substr.
func (h *Hub) Find(substr string) (Info, bool) {
	for _, c := range h.List() {
		if strings.Contains(c.URL, substr) {
			return c, true
		}
	}
	return Info{}, false
}

// Focus brings the client forward and navigates it to url when url is set.
func (h *Hub) Focus(id, url string) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	if err := h.enqueue(c, Command{Type: CmdFocus}); err != nil {
		return err
	}
	if url == "" {
		return nil
	}
	if err := h.enqueue(c, Command{Type: CmdNavigate, URL: url}); err != nil {
		return err
	}
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
	return nil
}

// Broadcast sends cmd to every client, skipping full queues.
func (h *Hub) Broadcast(cmd Command) {
	h.mu.RLock()
	list := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	h.mu.RUnlock()
	for _, c := range list {
		_ = h.enqueue(c, cmd)
	}
}

func (h *Hub) enqueue(c *client, cmd Command) error {
	select {
	case c.send <- cmd:
		return nil
	default:
		h.log.Warn("client send queue full", logx.String("client", c.id), logx.String("cmd", cmd.Type))
		return ErrSendQueueFull
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	list := h.clients
	h.clients = map[string]*client{}
	h.mu.Unlock()
	for _, c := range list {
		_ = c.conn.Close()
	}
}

// ServeHTTP upgrades the request. The page reports its location with the
// url query parameter and later location messages.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	now := time.Now()
	c := &client{
		id:    ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		conn:  conn,
		send:  make(chan Command, 16),
		url:   r.URL.Query().Get("url"),
		since: now,
	}

	h.mu.Lock()
	c.controlled = h.claimed
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Debug("client connected", logx.String("client", c.id), logx.String("url", c.url))

	ctx, cancel := context.WithCancel(r.Context())
	go h.writer(ctx, c)
	h.reader(ctx, c)
	cancel()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	_ = conn.Close()
	h.log.Debug("client disconnected", logx.String("client", c.id))
}

func (h *Hub) reader(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var m Message
		if err := c.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("client read failed", logx.String("client", c.id), logx.Err(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		switch m.Type {
		case MsgLocation:
			c.mu.Lock()
			c.url = m.URL
			c.mu.Unlock()
		case MsgPing:
		default:
			if h.onMessage != nil {
				h.onMessage(ctx, c.id, m)
			}
		}
	}
}

func (h *Hub) writer(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(cmd); err != nil {
				h.log.Debug("client write failed", logx.String("client", c.id), logx.Err(err))
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

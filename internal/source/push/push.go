// Package push is the browser-variant source: push payloads and synthetic
// notification events arrive over HTTP or from the background worker.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"empathai/internal/source"
	logx "empathai/pkg/logx"
)

const (
	Name = "push"

	maxPayload = 64 << 10
)

// ErrInactive is returned by Deliver while nothing is subscribed.
var ErrInactive = errors.New("push source inactive")

// Payload is the accepted JSON body. Message and Body are aliases.
type Payload struct {
	App     string `json:"app"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Body    string `json:"body"`
}

func (p Payload) Event() source.Event {
	body := p.Body
	if body == "" {
		body = p.Message
	}
	return source.Event{SourceApp: p.App, Title: p.Title, Body: body, Origin: Name}
}

// Source delivers events sequentially in arrival order.
type Source struct {
	log logx.Logger
	now func() time.Time

	mu      sync.Mutex
	handler source.Handler
	ctx     context.Context

	// deliver serializes handler calls.
	deliver sync.Mutex
}

func New(log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{log: log.With(logx.String("source", Name)), now: time.Now}
}

func (s *Source) Name() string { return Name }

func (s *Source) Subscribe(ctx context.Context, h source.Handler) (func(), error) {
	s.mu.Lock()
	s.handler = h
	s.ctx = ctx
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.handler = nil
		s.ctx = nil
		s.mu.Unlock()
	}, nil
}

func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// Deliver hands e to the subscribed handler.
func (s *Source) Deliver(e source.Event) error {
	s.mu.Lock()
	h, ctx := s.handler, s.ctx
	s.mu.Unlock()
	if h == nil {
		return ErrInactive
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.now()
	}
	if e.Origin == "" {
		e.Origin = Name
	}
	s.deliver.Lock()
	defer s.deliver.Unlock()
	h(ctx, e)
	return nil
}

// ServeHTTP accepts POSTed payloads. An unreadable payload is still
// delivered with empty fields.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var p Payload
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))
	if err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			s.log.Debug("invalid push payload", logx.Err(err))
			p = Payload{}
		}
	}
	if err := s.Deliver(p.Event()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

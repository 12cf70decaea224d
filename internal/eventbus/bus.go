// Package eventbus is an in-process fanout used for pipeline lifecycle
// signals (status page, websocket clients, logs).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pipeline components.
const (
	SourceActive   = "source.active"
	SourceInactive = "source.inactive"

	PipelineClassified = "pipeline.classified"
	PipelineIgnored    = "pipeline.ignored"
	PipelinePresented  = "pipeline.presented"
	PipelineFailed     = "pipeline.failed"
	PipelineDropped    = "pipeline.dropped"

	PermissionChanged = "permission.changed"
	ListenerChanged   = "listener.changed"

	WorkerState = "worker.state"
	WorkerClick = "worker.click"

	RelayQueued  = "relay.queued"
	RelaySent    = "relay.sent"
	RelayFailed  = "relay.failed"
	RelayDeduped = "relay.deduped"
	RelayDropped = "relay.dropped"
)

// Event is a small, JSON-friendly signal. Publish never blocks; a slow
// subscriber loses events once its buffer is full.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.offer(e)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.close()
		})
	}
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu        sync.Mutex
	closed    bool
	prefs     map[string]string
	incidents []Incident // oldest first
	dedup     map[string]time.Time
}

// NewMemory returns a Store that lives only as long as the process.
func NewMemory() Store {
	return &memoryStore{prefs: map[string]string{}, dedup: map[string]time.Time{}}
}

func (s *memoryStore) GetPref(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.prefs[key]
	return v, ok, nil
}

func (s *memoryStore) SetPref(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.prefs[key] = value
	return nil
}

func (s *memoryStore) AppendIncident(_ context.Context, in Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.incidents = append(s.incidents, prepareIncident(in))
	return nil
}

func (s *memoryStore) ListIncidents(_ context.Context, limit int) ([]Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return newestFirst(s.incidents, limit), nil
}

func (s *memoryStore) PruneIncidents(_ context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if keep < 0 || len(s.incidents) <= keep {
		return 0, nil
	}
	n := len(s.incidents) - keep
	s.incidents = append([]Incident(nil), s.incidents[n:]...)
	return n, nil
}

func (s *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.dedup[key] = until
	return nil
}

func (s *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	until, ok := s.dedup[strings.TrimSpace(key)]
	return until, ok, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// newestFirst copies the tail of an oldest-first slice in reverse order.
func newestFirst(in []Incident, limit int) []Incident {
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	out := make([]Incident, 0, limit)
	for i := len(in) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, in[i])
	}
	return out
}

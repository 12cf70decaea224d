package source

import (
	"sync"

	"empathai/internal/eventbus"
	logx "empathai/pkg/logx"
)

// InactiveEvent is published on eventbus.SourceInactive.
type InactiveEvent struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Status reports source failures once per activation so a denied source
// does not flood logs while it stays inactive.
type Status struct {
	log logx.Logger
	bus eventbus.Bus

	mu       sync.Mutex
	reported map[string]bool
	active   map[string]bool
}

func NewStatus(log logx.Logger, bus eventbus.Bus) *Status {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Status{log: log, bus: bus, reported: map[string]bool{}, active: map[string]bool{}}
}

// Active marks name as running and re-arms its failure report.
func (s *Status) Active(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.active[name] = true
	delete(s.reported, name)
	s.mu.Unlock()
	eventbus.Publish(s.bus, eventbus.SourceActive, name)
}

// Inactive marks name as stopped because of err and reports it if this is
// the first failure since the last Active.
func (s *Status) Inactive(name string, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.active[name] = false
	first := !s.reported[name]
	s.reported[name] = true
	s.mu.Unlock()
	if !first {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.log.Warn("notification source inactive", logx.String("source", name), logx.Err(err))
	eventbus.Publish(s.bus, eventbus.SourceInactive, InactiveEvent{Source: name, Error: msg})
}

// Snapshot returns the active flag of every source seen so far.
func (s *Status) Snapshot() map[string]bool {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.active))
	for k, v := range s.active {
		out[k] = v
	}
	return out
}

package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process only (tests, headless runs)
//   - "file": jsonl + snapshot files next to Path
//   - "sqlite": SQLite database file at Path
//
// An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// Incident is the privacy-preserving record of one alert-worthy
// notification. The notification text is never stored.
type Incident struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Severity  string    `json:"severity"`
	Source    string    `json:"source"`
	App       string    `json:"app,omitempty"`
	Hits      int       `json:"hits"`
	Fallback  bool      `json:"fallback"`
	Presented bool      `json:"presented"`
	Strategy  string    `json:"strategy,omitempty"`
	Error     string    `json:"error,omitempty"`
}

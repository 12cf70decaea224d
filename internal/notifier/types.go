package notifier

import (
	"context"
	"time"

	"empathai/internal/severity"
)

// Config controls the relay pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Alert is one relay request.
type Alert struct {
	Severity   severity.Tier
	SourceApp  string
	At         time.Time
	IncidentID string
}

// Sender delivers relay text to every configured contact.
type Sender interface {
	SendAlert(ctx context.Context, text string) error
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// RelayEvent is published on the relay.* bus topics.
type RelayEvent struct {
	Key      string    `json:"key"`
	Severity string    `json:"severity"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

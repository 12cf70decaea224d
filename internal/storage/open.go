package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "empathai/pkg/logx"

	"github.com/oklog/ulid/v2"
)

// Store is the persistence API used by the daemon.
type Store interface {
	GetPref(ctx context.Context, key string) (value string, ok bool, err error)
	SetPref(ctx context.Context, key, value string) error

	AppendIncident(ctx context.Context, in Incident) error
	// ListIncidents returns up to limit incidents, newest first.
	ListIncidents(ctx context.Context, limit int) ([]Incident, error)
	// PruneIncidents keeps the newest keep incidents and reports how many
	// were removed.
	PruneIncidents(ctx context.Context, keep int) (int, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "", "none":
		return nil, nil
	case "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// prepareIncident fills the id and timestamp of a new incident.
func prepareIncident(in Incident) Incident {
	if in.At.IsZero() {
		in.At = time.Now()
	}
	if in.ID == "" {
		in.ID = ulid.MustNew(ulid.Timestamp(in.At), ulid.DefaultEntropy()).String()
	}
	return in
}

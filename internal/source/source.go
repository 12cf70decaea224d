// Package source defines the platform notification sources and the group
// that (de)activates them as one listener.
package source

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrAccessDenied means the platform refused access to notifications.
var ErrAccessDenied = errors.New("notification access denied")

// Event is one notification observed on the platform. It is never
// persisted.
type Event struct {
	SourceApp  string    `json:"source_app"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	// Origin names the source that produced the event.
	Origin string `json:"origin"`
}

// Text is the classifier input: title and body joined by a space.
func (e Event) Text() string {
	return strings.TrimSpace(e.Title + " " + e.Body)
}

// Handler receives events. Sources call it sequentially per subscription.
type Handler func(ctx context.Context, e Event)

// Source is a platform notification source.
type Source interface {
	Name() string
	// Subscribe starts delivering events to h until the returned func is
	// called. An error means the source is inactive.
	Subscribe(ctx context.Context, h Handler) (unsubscribe func(), error error)
}

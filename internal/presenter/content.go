// Package presenter shows support replies as desktop notifications through
// an ordered chain of strategies.
package presenter

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"empathai/internal/severity"
	"empathai/internal/support"
)

const (
	AppName = "EmpathAI"
	Tag     = "empathai-support"
)

// Urgency mirrors the freedesktop notification urgency levels.
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Content is the visible notification, computed once per reply so every
// strategy shows the same thing.
type Content struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Body               string        `json:"body"`
	Tag                string        `json:"tag"`
	URL                string        `json:"url"`
	Severity           severity.Tier `json:"severity"`
	RequireInteraction bool          `json:"require_interaction"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Title formats the notification title for tier.
func Title(t severity.Tier) string {
	return fmt.Sprintf("EmpathAI Support 💜 (%s Alert)", t)
}

// Build derives the notification content for r. baseURL prefixes the chat
// deep link and may be empty.
func Build(r support.Reply, baseURL string) Content {
	now := time.Now()
	return Content{
		ID:                 ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Title:              Title(r.Severity),
		Body:               r.Text,
		Tag:                Tag,
		URL:                support.ChatURL(baseURL, r),
		Severity:           r.Severity,
		RequireInteraction: r.Severity == severity.High,
		CreatedAt:          now,
	}
}

// Urgency maps RequireInteraction onto the desktop urgency level.
func (c Content) Urgency() Urgency {
	if c.RequireInteraction {
		return UrgencyCritical
	}
	return UrgencyNormal
}

// ExpireTimeout is the freedesktop expire_timeout in milliseconds: 0 keeps
// the notification until the user acts, -1 lets the server decide.
func (c Content) ExpireTimeout() int32 {
	if c.RequireInteraction {
		return 0
	}
	return -1
}

// Package support fetches supportive reply text for a classified
// notification and serves the matching HTTP endpoint.
package support

import (
	"net/url"
	"strings"

	"empathai/internal/severity"
)

// ChatPath is the in-app chat route every reply links to.
const ChatPath = "/chat"

// DefaultReplyText is used when the endpoint answers successfully with an
// empty reply.
const DefaultReplyText = "I'm here to support you 💜"

// Reply is the support message produced for one notification cycle.
type Reply struct {
	Severity severity.Tier `json:"severity"`
	Text     string        `json:"text"`
	DeepLink string        `json:"deep_link"`
	// Fallback is true when the text came from the static table.
	Fallback bool `json:"fallback"`
}

var fallbackText = map[severity.Tier]string{
	severity.High:   "This sounds extremely serious. Please prioritize your safety. I'm here to support you 💜",
	severity.Medium: "That message sounds really hurtful. I'm here to support you. You deserve to feel safe 💜",
	severity.Low:    "I noticed something that might be bothering you. I'm here to listen 💜",
}

// FallbackText returns the static text for tier. Unknown tiers get the Low
// text.
func FallbackText(tier severity.Tier) string {
	if s, ok := fallbackText[tier]; ok {
		return s
	}
	return fallbackText[severity.Low]
}

// FallbackReply builds the static reply for tier.
func FallbackReply(tier severity.Tier) Reply {
	return Reply{Severity: tier, Text: FallbackText(tier), DeepLink: ChatPath, Fallback: true}
}

// ChatURL returns the click target for r: the chat route with auto-start
// enabled and the reply text as the opening message. base may be empty
// (relative link) or an absolute origin such as http://127.0.0.1:5173.
func ChatURL(base string, r Reply) string {
	path := r.DeepLink
	if path == "" {
		path = ChatPath
	}
	q := url.Values{}
	q.Set("auto", "true")
	q.Set("msg", r.Text)
	// url.Values encodes spaces as '+'; the chat page decodes with
	// decodeURIComponent, so use %20.
	enc := strings.ReplaceAll(q.Encode(), "+", "%20")
	return strings.TrimRight(strings.TrimSpace(base), "/") + path + "?" + enc
}

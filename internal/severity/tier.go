package severity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is the urgency of a notification. Tiers are totally ordered:
// Low < Medium < High.
type Tier int

const (
	Low Tier = iota
	Medium
	High
)

var tierNames = [...]string{Low: "Low", Medium: "Medium", High: "High"}

func (t Tier) String() string {
	if t < Low || t > High {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

func (t Tier) Valid() bool { return t >= Low && t <= High }

// ParseTier accepts the tier names case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	default:
		return Low, fmt.Errorf("severity: unknown tier %q", s)
	}
}

// Max returns the more urgent of a and b.
func Max(a, b Tier) Tier {
	if a > b {
		return a
	}
	return b
}

// AlertWorthy reports whether t warrants a support presentation.
func AlertWorthy(t Tier) bool { return t >= Medium }

func (t Tier) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("severity: invalid tier %d", int(t))
	}
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

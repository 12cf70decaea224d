// Package severity maps notification text onto an urgency tier with ordered
// keyword tables.
package severity

import (
	"errors"
	"fmt"
	"strings"
)

// Keywords holds one keyword list per tier. Lists must be disjoint.
type Keywords struct {
	High   []string `json:"high"`
	Medium []string `json:"medium"`
	Low    []string `json:"low"`
}

// DefaultKeywords is the built-in keyword table.
func DefaultKeywords() Keywords {
	return Keywords{
		High: []string{
			"rape", "molest", "kill", "assault", "sexual",
			"threat", "stalker", "violence", "harm", "attack",
		},
		Medium: []string{
			"abuse", "harass", "touch", "dirty", "flirt",
			"blackmail", "bully", "intimidate", "coerce",
		},
		Low: []string{
			"insult", "idiot", "stupid", "annoying", "mean",
			"hate", "rude", "nasty", "disgusting",
		},
	}
}

var ErrOverlap = errors.New("severity: keyword listed in more than one tier")

// Result is the outcome of Analyze.
type Result struct {
	Tier Tier     `json:"severity"`
	Hits []string `json:"hits,omitempty"`
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	// ordered High, Medium, Low
	tiers [3]tierWords
}

type tierWords struct {
	tier  Tier
	words []string
}

// NewClassifier normalizes kw to lower case and rejects overlapping tiers.
// Empty lists are allowed.
func NewClassifier(kw Keywords) (*Classifier, error) {
	seen := map[string]Tier{}
	norm := func(t Tier, in []string) ([]string, error) {
		out := make([]string, 0, len(in))
		for _, w := range in {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if prev, ok := seen[w]; ok {
				if prev == t {
					continue
				}
				return nil, fmt.Errorf("%w: %q in %s and %s", ErrOverlap, w, prev, t)
			}
			seen[w] = t
			out = append(out, w)
		}
		return out, nil
	}

	c := &Classifier{}
	for i, t := range []struct {
		tier  Tier
		words []string
	}{{High, kw.High}, {Medium, kw.Medium}, {Low, kw.Low}} {
		words, err := norm(t.tier, t.words)
		if err != nil {
			return nil, err
		}
		c.tiers[i] = tierWords{tier: t.tier, words: words}
	}
	return c, nil
}

var defaultClassifier = mustDefault()

func mustDefault() *Classifier {
	c, err := NewClassifier(DefaultKeywords())
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the classifier built from DefaultKeywords.
func Default() *Classifier { return defaultClassifier }

// Classify returns the tier of text using the default tables.
func Classify(text string) Tier { return defaultClassifier.Classify(text) }

// Classify checks tiers from most to least urgent and returns the first one
// with a substring hit. Text without any hit is Low.
func (c *Classifier) Classify(text string) Tier {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return Low
	}
	for _, tw := range c.tiers {
		for _, w := range tw.words {
			if strings.Contains(lower, w) {
				return tw.tier
			}
		}
	}
	return Low
}

// Analyze is Classify plus the keywords of the winning tier that matched.
func (c *Classifier) Analyze(text string) Result {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return Result{Tier: Low}
	}
	for _, tw := range c.tiers {
		var hits []string
		for _, w := range tw.words {
			if strings.Contains(lower, w) {
				hits = append(hits, w)
			}
		}
		if len(hits) > 0 {
			return Result{Tier: tw.tier, Hits: hits}
		}
	}
	return Result{Tier: Low}
}

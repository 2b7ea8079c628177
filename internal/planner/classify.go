package planner

import (
	"strings"
	"unicode"
)

// DefaultCapability is assigned to segments no keyword recognizes.
const DefaultCapability = "general"

// Capability maps a capability name to the keywords that signal it.
type Capability struct {
	Name     string   `mapstructure:"name" yaml:"name"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
}

// DefaultCapabilities is the stock keyword table, in priority order.
var DefaultCapabilities = []Capability{
	{
		Name:     "weather",
		Keywords: []string{"weather", "forecast", "rain", "temperature", "sunny", "snow", "wind", "humid"},
	},
	{
		Name:     "finance",
		Keywords: []string{"stock", "price", "market", "invest", "shares", "portfolio", "exchange rate", "currency"},
	},
	{
		Name:     "activities",
		Keywords: []string{"activities", "activity", "suggest", "indoor", "outdoor", "things to do", "visit", "museum"},
	},
}

// Classifier assigns a capability to a piece of text by keyword hits.
type Classifier struct {
	caps     []Capability
	fallback string
}

// NewClassifier builds a classifier. Keywords are matched at word starts,
// case-insensitively.
func NewClassifier(caps []Capability, fallback string) *Classifier {
	if fallback == "" {
		fallback = DefaultCapability
	}
	c := &Classifier{fallback: fallback}
	for _, cp := range caps {
		kw := make([]string, 0, len(cp.Keywords))
		for _, k := range cp.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		c.caps = append(c.caps, Capability{Name: cp.Name, Keywords: kw})
	}
	return c
}

// Classify returns the capability with the most keyword hits and the hit
// count. Ties go to the capability declared first; no hits yields the
// fallback capability with zero hits.
func (c *Classifier) Classify(text string) (string, int) {
	padded := " " + simplify(text) + " "

	best, bestHits := c.fallback, 0
	for _, cp := range c.caps {
		hits := 0
		for _, k := range cp.Keywords {
			if strings.Contains(padded, " "+k) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = cp.Name, hits
		}
	}
	return best, bestHits
}

// Fallback returns the default capability.
func (c *Classifier) Fallback() string {
	return c.fallback
}

// simplify lowercases text and turns punctuation into spaces.
func simplify(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

package planner

import (
	"regexp"
	"strings"
)

var (
	// sequenceRe marks a data-flow boundary: the right side uses the left.
	sequenceRe = regexp.MustCompile(`(?i)\s*,?\s*\b(?:and then|after that|afterwards|then)\b[\s,]*`)
	// parallelRe marks independent requests.
	parallelRe = regexp.MustCompile(`(?i)\s*(?:;|\band also\b|\bas well as\b)\s*`)
	// andRe is the ambiguous conjunction, split only between distinct capabilities.
	andRe = regexp.MustCompile(`(?i)\s+and\s+`)
	// locationRe extracts a capitalized place name after a preposition.
	locationRe = regexp.MustCompile(`\b(?:in|at|for|near)\s+(\p{Lu}\p{L}+(?:\s+\p{Lu}\p{L}+)*)`)
)

// segment is one intent found in the request.
type segment struct {
	text string
	// stage is the position in the sequence; segments of stage n depend on
	// every segment of stage n-1.
	stage int
}

// splitSegments breaks a request into intents.
func splitSegments(query string, c *Classifier) []segment {
	var out []segment
	stage := 0
	for _, chunk := range sequenceRe.Split(query, -1) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		added := false
		for _, part := range parallelRe.Split(chunk, -1) {
			for _, p := range splitAnd(strings.TrimSpace(part), c) {
				if p = strings.Trim(p, " ,.!?"); p != "" {
					out = append(out, segment{text: p, stage: stage})
					added = true
				}
			}
		}
		if added {
			stage++
		}
	}
	return out
}

// splitAnd splits on "and" only where both sides are recognized and name
// different capabilities, so "salt and pepper" stays whole.
func splitAnd(text string, c *Classifier) []string {
	locs := andRe.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		left, right := text[:loc[0]], text[loc[1]:]
		lc, lh := c.Classify(left)
		rc, rh := c.Classify(right)
		if lh > 0 && rh > 0 && lc != rc {
			return append([]string{left}, splitAnd(right, c)...)
		}
	}
	return []string{text}
}

// extractLocation returns the first place name in text.
func extractLocation(text string) string {
	m := locationRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

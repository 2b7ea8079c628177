package cache

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// fingerprintVersion prefixes every fingerprint so a change to the
// normalization rules never collides with older entries.
const fingerprintVersion = "v1"

// Normalize lowercases the text, strips punctuation at word edges and
// collapses whitespace.
func Normalize(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), unicode.IsSpace)
	for i, f := range fields {
		fields[i] = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) && r != '{' && r != '}'
		})
	}
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// Fingerprint returns a deterministic key for a normalized query and its
// parameters. Parameter order does not matter.
func Fingerprint(query string, params map[string]string) string {
	d := xxhash.New()
	_, _ = d.WriteString(Normalize(query))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(Normalize(params[k]))
	}
	return fingerprintVersion + ":" + strconv.FormatUint(d.Sum64(), 16)
}

// TaskFingerprint keys a task result by capability and resolved parameters.
func TaskFingerprint(capability, query string, params map[string]string) string {
	return Fingerprint(capability+"|"+query, params)
}

// Package version reports the conductor release.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Override replaces the embedded version when set at link time with
// -ldflags "-X github.com/ShayCichocki/conductor/internal/version.Override=v1.2.3".
var Override string

// Get returns the current version, with whitespace trimmed
func Get() string {
	if Override != "" {
		return strings.TrimSpace(Override)
	}
	return strings.TrimSpace(versionContent)
}

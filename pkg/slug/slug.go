// Package slug generates URL-safe, human-readable identifiers for
// repositories and analyses.
package slug

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxLength caps generated slugs so they stay usable in URLs.
	MaxLength = 80
	fallback  = "untitled"
)

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9]+`)
	dashRuns     = regexp.MustCompile(`-{2,}`)
)

// Make converts an arbitrary name into a lowercase, dash-separated slug.
// Empty or fully non-alphanumeric input yields "untitled".
func Make(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = invalidChars.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > MaxLength {
		s = strings.Trim(s[:MaxLength], "-")
	}
	if s == "" {
		return fallback
	}
	return s
}

// MakeUnique returns a slug for name that does not collide with any existing
// slug, appending a numeric suffix (-2, -3, ...) on collision. The exists
// function reports whether a candidate slug is already taken.
func MakeUnique(name string, exists func(candidate string) (bool, error)) (string, error) {
	base := Make(name)

	taken, err := exists(base)
	if err != nil {
		return "", fmt.Errorf("check slug %q: %w", base, err)
	}
	if !taken {
		return base, nil
	}

	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
}

// IsSlug reports whether s is slug-shaped: lowercase alphanumerics and
// dashes only. Identifier-shaped input (UUIDs) also matches; callers that
// accept both shapes should attempt a UUID parse first.
func IsSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

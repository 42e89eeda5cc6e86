package store

import (
	"regexp"
	"strings"
)

var (
	validIDRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^-+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizeID sanitizes a caller-provided session ID. IDs end up in
// filesystem paths (workdir and index directory names), so anything
// outside [a-z0-9_-] is collapsed:
//   - Lowercase, max 64 chars
//   - Invalid chars replaced with "-"
//   - Leading/trailing dashes stripped
//
// Server-generated UUIDs pass through unchanged. An empty result
// returns "", which callers treat as a missing ID.
func NormalizeID(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ""
	}

	lower := strings.ToLower(trimmed)
	if validIDRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = result[:64]
	}
	return result
}

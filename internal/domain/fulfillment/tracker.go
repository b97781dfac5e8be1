package fulfillment

import "strings"

// Default tracker length bounds for the carrier.
const (
	DefaultTrackerMinLength = 8
	DefaultTrackerMaxLength = 14
)

// NormalizeTracker strips whitespace and the separators operators tend to
// type into tracking numbers.
func NormalizeTracker(tracker string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '.', '_', '/':
			return -1
		}
		return r
	}, strings.TrimSpace(tracker))
}

// IsValidTracker reports whether tracker is all digits after normalisation
// with a length inside [minLen, maxLen].
func IsValidTracker(tracker string, minLen, maxLen int) bool {
	normalized := NormalizeTracker(tracker)
	if len(normalized) < minLen || len(normalized) > maxLen {
		return false
	}
	for _, r := range normalized {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

package versioning

import (
	"strconv"
	"strings"
)

// Number prefixes for main-line and branch versions.
const (
	MainLinePrefix = "v"
	BranchPrefix   = "branch-v"
)

// NextNumber returns the number that follows every entry in existing,
// formatted as prefix+N. Entries whose suffix does not parse still count
// towards N, so the result never collides with a malformed row.
func NextNumber(prefix string, existing []string) string {
	highest := 0
	for _, e := range existing {
		if n, ok := parseNumber(prefix, e); ok && n > highest {
			highest = n
		}
	}
	if len(existing) > highest {
		highest = len(existing)
	}
	return prefix + strconv.Itoa(highest+1)
}

func parseNumber(prefix, s string) (int, bool) {
	if !strings.HasPrefix(s, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, prefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

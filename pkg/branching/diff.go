package branching

import (
	"fmt"
	"strings"
)

// PositionalDiff compares left and right line by line at equal indexes.
// It is not an LCS diff: an inserted line shifts every later index and
// shows up as a run of changes. For each differing index it emits the left
// line prefixed with "-" and the right line prefixed with "+", skipping the
// side that has no line at that index, and ends with a summary line.
// Files are reported identical only when line counts and every line match.
func PositionalDiff(left, right []byte, leftLabel, rightLabel string) string {
	l := splitLines(left)
	r := splitLines(right)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", leftLabel, rightLabel)

	n := max(len(l), len(r))
	changed := 0
	for i := 0; i < n; i++ {
		var lv, rv string
		hasL, hasR := i < len(l), i < len(r)
		if hasL {
			lv = l[i]
		}
		if hasR {
			rv = r[i]
		}
		if hasL && hasR && lv == rv {
			continue
		}
		changed++
		fmt.Fprintf(&b, "@@ line %d @@\n", i+1)
		if hasL {
			b.WriteString("-" + lv + "\n")
		}
		if hasR {
			b.WriteString("+" + rv + "\n")
		}
	}

	if changed == 0 {
		fmt.Fprintf(&b, "=== no differences (%d lines) ===\n", n)
	} else {
		fmt.Fprintf(&b, "=== %d of %d lines differ (%s: %d lines, %s: %d lines) ===\n",
			changed, n, leftLabel, len(l), rightLabel, len(r))
	}
	return b.String()
}

// splitLines splits on "\n", treating "\r\n" as a line break and ignoring
// one trailing newline. Empty input has no lines.
func splitLines(data []byte) []string {
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

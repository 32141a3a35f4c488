package budget

import (
	"strconv"
	"strings"
)

// parseCode splits a dotted code into its integer segments. It reports false
// for empty codes, empty segments and non-digit characters.
func parseCode(code string) ([]int, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, false
	}
	parts := strings.Split(code, ".")
	segments := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return nil, false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		segments = append(segments, n)
	}
	return segments, true
}

// joinCode renders segments back into the canonical dotted form, so "201.03"
// and "201.3" address the same node.
func joinCode(segments []int) string {
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(s))
	}
	return b.String()
}

// levelOf is the segment count minus one. Codes deeper than LevelItem are
// detail lines: they keep their stored total and take no part in the rollup.
func levelOf(segments []int) int {
	return len(segments) - 1
}

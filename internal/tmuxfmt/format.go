package tmuxfmt

import "strings"

// FieldSeparator is the canonical tmux list format delimiter used by
// termdeck. ASCII Unit Separator avoids collision with pane title and
// path text.
const FieldSeparator = "\x1f"

// Join builds a tmux format string with the canonical delimiter.
func Join(fields ...string) string {
	return strings.Join(fields, FieldSeparator)
}

// SplitLine splits a tmux formatted line, accepting a real tab as a
// fallback for formats that predate the unit-separator convention.
func SplitLine(line string) []string {
	if strings.Contains(line, FieldSeparator) {
		return strings.Split(line, FieldSeparator)
	}
	if strings.Contains(line, "\t") {
		return strings.Split(line, "\t")
	}
	return []string{line}
}

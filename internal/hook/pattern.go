package hook

import "github.com/bmatcuk/doublestar/v4"

// MatchToolPattern reports whether toolName matches pattern. Patterns are
// doublestar globs over the flat tool-name namespace (no path separators),
// e.g. "bash", "write", "edit", "*" — generalizing the teacher's bash
// wildcard matcher (internal/policy, deleted wildcard.go) from space-separated
// subcommand patterns to whole tool names.
func MatchToolPattern(pattern, toolName string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := doublestar.Match(pattern, toolName)
	if err != nil {
		return false
	}
	return ok
}

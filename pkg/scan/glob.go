// Dlist can filter a list's values with glob patterns, e.g. "ke?*" or "[a-c]*".
// Values are matched as slash separated paths: "*" stops at "/", "a/*" matches "a/b" and a trailing "..."
// matches any number of remaining segments, so "..." alone matches every value.

package scan

import (
	"iter"
	"strings"

	"v.io/v23/glob"
)

// MatchGlob lazily yields the `values` matching the given glob `pattern`.
// An invalid pattern matches nothing.
func MatchGlob(pattern string, values iter.Seq[string]) iter.Seq[string] {
	parsedPattern, err := glob.Parse(pattern)
	if err != nil { // If pattern is invalid, return empty sequence.
		return func(yield func(string) bool) {}
	}
	return func(yield func(string) bool) {
		for value := range values {
			if matchSegments(parsedPattern, value) {
				if !yield(value) {
					return
				}
			}
		}
	}
}

// matchSegments reports whether every "/" separated segment of `value` is matched by its element of `pattern`.
func matchSegments(pattern *glob.Glob, value string) bool {
	for segment := range strings.SplitSeq(value, "/") {
		if pattern.Len() == 0 {
			return pattern.Recursive()
		}
		if !pattern.Head().Match(segment) {
			return false
		}
		pattern = pattern.Tail()
	}
	return pattern.Len() == 0
}

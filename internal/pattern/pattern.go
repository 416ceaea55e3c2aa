// Package pattern implements the regex-based list filtering that the
// rest of the grader is built on: roster comment stripping, submission
// lookup by student id, and tree-walk pruning all reduce to "which of
// these strings match any of these patterns".
package pattern

import (
	"fmt"
	"regexp"
)

// Filter returns the items matched by any of the given patterns.
// Matching is a case-insensitive regex search. Items matched by more
// than one pattern appear once per matching pattern; callers that want
// to prune a list remove the returned entries themselves.
func Filter(patterns []string, items []string) ([]string, error) {
	return filter(patterns, items, false)
}

// FilterExact is Filter with whole-word matching: every pattern is
// anchored on word boundaries and matched case-sensitively.
func FilterExact(patterns []string, items []string) ([]string, error) {
	return filter(patterns, items, true)
}

func filter(patterns []string, items []string, exact bool) ([]string, error) {
	var matched []string
	for _, p := range patterns {
		expr := "(?i)" + p
		if exact {
			expr = `\b` + p + `\b`
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		for _, item := range items {
			if re.MatchString(item) {
				matched = append(matched, item)
			}
		}
	}
	return matched, nil
}

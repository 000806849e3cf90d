// Package cli holds helpers shared by the weblist commands.
package cli

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

// ErrNoMatch is returned when a name or pattern selects nothing.
var ErrNoMatch = errors.New("no matching credentials")

// IsPattern reports whether s contains glob metacharacters.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// MatchNames expands one pattern against names. Patterns use path.Match
// syntax, so '*' does not cross a '/' in hierarchical names such as
// "storage/password". A plain name must exist exactly.
func MatchNames(pattern string, names []string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	if !IsPattern(pattern) {
		if slices.Contains(names, pattern) {
			return []string{pattern}, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, pattern)
	}

	var matches []string
	for _, name := range names {
		if ok, _ := path.Match(pattern, name); ok {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: pattern %q", ErrNoMatch, pattern)
	}
	return matches, nil
}

// MatchAll expands several patterns and returns the union in order of
// first match.
func MatchAll(patterns, names []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string
	for _, p := range patterns {
		matches, err := MatchNames(p, names)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				result = append(result, m)
			}
		}
	}
	return result, nil
}

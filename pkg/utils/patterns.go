package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// PatternMatcher handles glob pattern matching on slash-separated paths.
// `*` and `?` stay within one path segment, `**` spans any number of
// segments (including none when written as a whole segment).
type PatternMatcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	var expanded []string
	for _, pattern := range patterns {
		expanded = append(expanded, ExpandPattern(NormalizePattern(pattern))...)
	}

	pm := &PatternMatcher{
		patterns: expanded,
		globs:    make([]glob.Glob, 0, len(expanded)),
	}

	for _, pattern := range expanded {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		pm.globs = append(pm.globs, g)
	}

	return pm, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	path = filepath.ToSlash(path)
	for _, g := range pm.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// NormalizePattern converts separators to '/' and drops a leading "./".
// A trailing '/' is kept since it carries "directories only" meaning.
func NormalizePattern(pattern string) string {
	pattern = filepath.ToSlash(pattern)
	return strings.TrimPrefix(pattern, "./")
}

// ExpandPattern returns the pattern plus every variant in which a whole
// "**" segment matches zero segments.
//
//	"a/**/b" -> ["a/**/b", "a/b"]
func ExpandPattern(pattern string) []string {
	seen := map[string]bool{pattern: true}
	result := []string{pattern}

	queue := []string{pattern}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		for _, variant := range collapseOnce(p) {
			if !seen[variant] {
				seen[variant] = true
				result = append(result, variant)
				queue = append(queue, variant)
			}
		}
	}
	return result
}

// collapseOnce removes a single "**" segment at each possible position.
func collapseOnce(pattern string) []string {
	var variants []string

	if strings.HasPrefix(pattern, "**/") {
		variants = append(variants, pattern[3:])
	}

	for i := 0; ; {
		idx := strings.Index(pattern[i:], "/**/")
		if idx < 0 {
			break
		}
		at := i + idx
		variants = append(variants, pattern[:at]+pattern[at+3:])
		i = at + 1
	}

	return variants
}

// ExclusionMatcher handles exclusion patterns
type ExclusionMatcher struct {
	patterns []string
	matcher  *PatternMatcher
}

// NewExclusionMatcher creates a new exclusion matcher. Bare names such as
// ".git" exclude that entry and everything below it at any depth.
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	var all []string
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "/") {
			all = append(all, "**/"+pattern, "**/"+pattern+"/**")
			continue
		}
		all = append(all, pattern)
	}

	matcher, err := NewPatternMatcher(all)
	if err != nil {
		return nil, err
	}

	return &ExclusionMatcher{
		patterns: patterns,
		matcher:  matcher,
	}, nil
}

// IsExcluded checks if a path should be excluded
func (em *ExclusionMatcher) IsExcluded(path string) bool {
	return em.matcher.Match(path)
}

// FilterPaths removes excluded paths from a list
func (em *ExclusionMatcher) FilterPaths(paths []string) []string {
	var filtered []string
	for _, path := range paths {
		if !em.IsExcluded(path) {
			filtered = append(filtered, path)
		}
	}
	return filtered
}

// GetDefaultExclusions returns the entries never treated as application
// content: version control metadata and editor or OS droppings.
func GetDefaultExclusions() []string {
	return []string{
		".svn",
		".git",
		"CVS",
		"thumbs.db",
		"Thumbs.db",
		"picasa.ini",
		".DS_Store",
		"*.scc",
		"*.swp",
		"*~",
	}
}

// MatchGlob matches a path against a single glob pattern
func MatchGlob(pattern, path string) (bool, error) {
	matcher, err := NewPatternMatcher([]string{pattern})
	if err != nil {
		return false, err
	}
	return matcher.Match(path), nil
}

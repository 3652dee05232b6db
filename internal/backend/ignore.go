package backend

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// IgnoreMatcher matches workdir-relative paths against ignore globs.
// A nil *IgnoreMatcher ignores nothing.
type IgnoreMatcher struct {
	patterns []glob.Glob
}

// NewIgnoreMatcher compiles patterns with "/" as the separator, so "*"
// stays within one path segment and "**" crosses segments.
func NewIgnoreMatcher(patterns []string) (*IgnoreMatcher, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	m := &IgnoreMatcher{patterns: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// Match reports whether rel is ignored. A pattern ending in "/**" also
// matches the directory itself, so watchers can skip whole subtrees.
func (m *IgnoreMatcher) Match(rel string) bool {
	if m == nil {
		return false
	}
	rel = strings.TrimPrefix(rel, "./")
	for _, g := range m.patterns {
		if g.Match(rel) || g.Match(rel+"/") || g.Match("/"+rel) || g.Match("/"+rel+"/") {
			return true
		}
	}
	return false
}

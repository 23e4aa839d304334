package patternutil

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Matcher reports whether a name matches any of a set of shell patterns.
// Patterns are compiled without separators, so "*" also spans "/" the
// same way fnmatch-style allow lists do.
type Matcher struct {
	globs []glob.Glob
}

func Compile(patterns ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}

	return m, nil
}

func MustCompile(patterns ...string) *Matcher {
	m, err := Compile(patterns...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Matcher) Match(name string) bool {
	if m == nil {
		return false
	}
	for _, g := range m.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

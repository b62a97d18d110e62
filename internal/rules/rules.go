// Package rules holds the ordered, linear-scan string matchers used for robots
// disallow prefixes and ignored path suffixes.
package rules

import "strings"

// Prefix matches strings that start with any inserted pattern.
type Prefix struct {
	patterns []string
}

func (p *Prefix) Insert(pattern string) {
	p.patterns = append(p.patterns, pattern)
}

func (p *Prefix) Matches(s string) bool {
	for _, pat := range p.patterns {
		if strings.HasPrefix(s, pat) {
			return true
		}
	}
	return false
}

func (p *Prefix) Len() int { return len(p.patterns) }

func (p *Prefix) Patterns() []string {
	return append([]string(nil), p.patterns...)
}

// Suffix matches strings that end with any inserted pattern. An empty pattern
// matches everything.
type Suffix struct {
	patterns []string
}

func NewSuffix(patterns ...string) *Suffix {
	s := &Suffix{}
	for _, p := range patterns {
		s.Insert(p)
	}
	return s
}

func (s *Suffix) Insert(pattern string) {
	s.patterns = append(s.patterns, pattern)
}

func (s *Suffix) Matches(v string) bool {
	for _, pat := range s.patterns {
		if strings.HasSuffix(v, pat) {
			return true
		}
	}
	return false
}

func (s *Suffix) Len() int { return len(s.patterns) }

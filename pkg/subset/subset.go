// Package subset parses partial-transfer descriptors. A descriptor is a
// comma-separated list of glob patterns matched against payload-relative
// paths; a leading '!' excludes. Patterns support doublestar globs
// ("docs/**", "*.tar.gz").
package subset

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher selects the payload paths named by a descriptor.
type Matcher struct {
	include []string
	exclude []string
}

// Parse compiles a descriptor. The empty descriptor yields a matcher that
// selects everything.
func Parse(desc string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range strings.Split(desc, ",") {
		pat := strings.TrimSpace(raw)
		if pat == "" {
			continue
		}
		neg := strings.HasPrefix(pat, "!")
		if neg {
			pat = strings.TrimSpace(pat[1:])
			if pat == "" {
				return nil, fmt.Errorf("subset: empty exclusion pattern")
			}
		}
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("subset: invalid pattern %q", pat)
		}
		if neg {
			m.exclude = append(m.exclude, pat)
		} else {
			m.include = append(m.include, pat)
		}
	}
	return m, nil
}

// Validate checks descriptor syntax without building a matcher.
func Validate(desc string) error {
	_, err := Parse(desc)
	return err
}

// Empty reports whether the descriptor carried no patterns.
func (m *Matcher) Empty() bool {
	return len(m.include) == 0 && len(m.exclude) == 0
}

// Match reports whether a payload-relative path is selected. With no include
// patterns everything is included; exclusions always win.
func (m *Matcher) Match(path string) bool {
	path = strings.TrimPrefix(path, "/")
	for _, pat := range m.exclude {
		if ok, _ := doublestar.Match(pat, path); ok {
			return false
		}
	}
	if len(m.include) == 0 {
		return true
	}
	for _, pat := range m.include {
		if ok, _ := doublestar.Match(pat, path); ok {
			return true
		}
	}
	return false
}

package tools

import "strings"

// Filter decides which catalog entries are exposed to the model.
// Deny patterns win over allow patterns; an empty allow list allows
// everything. The Enabled map carries explicit per-tool toggles and
// overrides both pattern lists.
type Filter struct {
	Allow   []string
	Deny    []string
	Enabled map[string]bool
}

// Allows reports whether the call name passes the filter.
func (f Filter) Allows(name string) bool {
	if on, ok := f.Enabled[name]; ok {
		return on
	}
	for _, p := range f.Deny {
		if matchPattern(p, name) {
			return false
		}
	}
	if len(f.Allow) == 0 {
		return true
	}
	for _, p := range f.Allow {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}

// matchPattern matches name against a pattern with at most one leading or
// trailing "*" wildcard. A bare "*" matches everything; anything else is an
// exact match.
func matchPattern(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(name, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	default:
		return pattern == name
	}
}

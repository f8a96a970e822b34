// Package filter narrows the set of declarations the serializability
// analysis may consider.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Filter decides whether a declaration may take part in serialization.
// Callers pass the base declaration of parameterized and raw types.
type Filter interface {
	IsAllowed(c *typemodel.Class) bool
	Name() string
}

// AllowAll admits every declaration.
type AllowAll struct{}

func (AllowAll) IsAllowed(*typemodel.Class) bool { return true }
func (AllowAll) Name() string                    { return "AllowAll" }

// Blacklist rejects declarations whose qualified name matches an exclusion
// pattern. Patterns are regular expressions prefixed with '-' (exclude) or
// '+' (include); an unprefixed pattern excludes. Patterns are tried in order
// and the last matching one wins; unmatched names are allowed.
type Blacklist struct {
	rules []rule
}

type rule struct {
	re    *regexp.Regexp
	allow bool
}

// NewBlacklist compiles patterns. Each pattern is anchored to match the
// whole qualified name.
func NewBlacklist(patterns []string) (*Blacklist, error) {
	b := &Blacklist{rules: make([]rule, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		allow := false
		switch p[0] {
		case '+':
			allow = true
			p = p[1:]
		case '-':
			p = p[1:]
		}
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid blacklist pattern %q: %w", p, err)
		}
		b.rules = append(b.rules, rule{re: re, allow: allow})
	}
	return b, nil
}

// IsAllowed implements Filter.
func (b *Blacklist) IsAllowed(c *typemodel.Class) bool {
	allowed := true
	for _, r := range b.rules {
		if r.re.MatchString(c.QualifiedName) {
			allowed = r.allow
		}
	}
	return allowed
}

// Name implements Filter.
func (b *Blacklist) Name() string { return "Blacklist" }

// Len returns the number of compiled rules.
func (b *Blacklist) Len() int { return len(b.rules) }

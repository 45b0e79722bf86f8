package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern matches task ids, group ids or role names.
type Pattern interface {
	Match(name string) bool
	String() string
}

type exactPattern string

func (p exactPattern) Match(name string) bool { return string(p) == name }
func (p exactPattern) String() string          { return string(p) }

type anyPattern struct{}

func (anyPattern) Match(string) bool { return true }
func (anyPattern) String() string    { return RoleAll }

type nonePattern string

func (nonePattern) Match(string) bool  { return false }
func (p nonePattern) String() string { return string(p) }

type regexPattern struct {
	source string
	re     *regexp.Regexp
}

func (p *regexPattern) Match(name string) bool { return p.re.MatchString(name) }
func (p *regexPattern) String() string          { return p.source }

// IsPattern reports whether expr is a /regex/ or the "*" wildcard rather
// than a literal name.
func IsPattern(expr string) bool {
	return expr == RoleAll || isRegex(expr)
}

func isRegex(expr string) bool {
	return len(expr) > 1 && strings.HasPrefix(expr, "/") && strings.HasSuffix(expr, "/")
}

// CompilePattern turns a name into a Pattern. "/re/" is a regular expression
// anchored at the start of the name, "*" matches anything and every other
// value matches itself.
func CompilePattern(expr string) (Pattern, error) {
	if expr == RoleAll {
		return anyPattern{}, nil
	}
	if !isRegex(expr) {
		return exactPattern(expr), nil
	}
	re, err := regexp.Compile("^(?:" + expr[1:len(expr)-1] + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %s: %w", expr, err)
	}
	return &regexPattern{source: expr, re: re}, nil
}

// PatternTable compiles each distinct pattern once. It is not safe for
// concurrent use; every planning run owns its own table.
type PatternTable struct {
	patterns map[string]Pattern
	invalid  map[string]error
}

// NewPatternTable creates an empty table.
func NewPatternTable() *PatternTable {
	return &PatternTable{
		patterns: make(map[string]Pattern),
		invalid:  make(map[string]error),
	}
}

// Get returns the compiled pattern for expr. An invalid regex never matches
// anything; the compile error is available from Err.
func (t *PatternTable) Get(expr string) Pattern {
	if p, ok := t.patterns[expr]; ok {
		return p
	}
	p, err := CompilePattern(expr)
	if err != nil {
		t.invalid[expr] = err
		p = nonePattern(expr)
	}
	t.patterns[expr] = p
	return p
}

// Err returns the compile error recorded for expr, if any.
func (t *PatternTable) Err(expr string) error {
	t.Get(expr)
	return t.invalid[expr]
}

// MatchAny returns the names matching expr, in the order given.
func (t *PatternTable) MatchAny(expr string, names []string) []string {
	p := t.Get(expr)
	var out []string
	for _, n := range names {
		if p.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

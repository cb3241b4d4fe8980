// Package match evaluates structural predicates against method signatures.
//
// A Query carries class handles. It is turned into descriptor-level Criteria
// once per call and compiled into type ids once per dex, so the per-candidate
// check only compares integers and the shorty string.
package match

import (
	"fmt"
	"strings"

	"github.com/dexhelper/internal/handle"
)

// AnyCount leaves the parameter count unconstrained.
const AnyCount = -1

// ShortyMode selects how ParameterShorty is compared.
type ShortyMode int

const (
	// ShortyDefault defers to the engine's configured mode.
	ShortyDefault ShortyMode = iota
	ShortyExact
	ShortyPrefix
)

func (m ShortyMode) String() string {
	switch m {
	case ShortyExact:
		return "exact"
	case ShortyPrefix:
		return "prefix"
	}
	return "default"
}

// ParseShortyMode accepts "exact", "prefix" or "" (default).
func ParseShortyMode(s string) (ShortyMode, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return ShortyDefault, nil
	case "exact":
		return ShortyExact, nil
	case "prefix":
		return ShortyPrefix, nil
	}
	return ShortyDefault, fmt.Errorf("unknown shorty mode %q", s)
}

// Query is the set of structural options accepted by every find call.
// The zero value is not a valid wildcard query; use NewQuery.
type Query struct {
	ReturnType      handle.Class
	ParameterCount  int
	ParameterShorty string
	ShortyMode      ShortyMode
	DeclaringClass  handle.Class
	// ParameterTypes is an exact positional list when non-nil.
	// NoneClass entries match any type at that position.
	ParameterTypes []handle.Class
	// ContainsParameterTypes must each appear somewhere in the parameters.
	ContainsParameterTypes []handle.Class
	// DexPriority lists ordinals to visit in order; nil visits every dex.
	DexPriority []int
	FindFirst   bool
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// NewQuery returns a query with every predicate unset, then applies opts.
func NewQuery(opts ...QueryOption) *Query {
	q := &Query{
		ReturnType:     handle.NoneClass,
		ParameterCount: AnyCount,
		DeclaringClass: handle.NoneClass,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func WithReturnType(c handle.Class) QueryOption {
	return func(q *Query) { q.ReturnType = c }
}

func WithParameterCount(n int) QueryOption {
	return func(q *Query) { q.ParameterCount = n }
}

func WithShorty(shorty string) QueryOption {
	return func(q *Query) { q.ParameterShorty = shorty }
}

// WithShortyPrefix sets the shorty and compares it as a prefix.
func WithShortyPrefix(prefix string) QueryOption {
	return func(q *Query) {
		q.ParameterShorty = prefix
		q.ShortyMode = ShortyPrefix
	}
}

func WithShortyMode(m ShortyMode) QueryOption {
	return func(q *Query) { q.ShortyMode = m }
}

func WithDeclaringClass(c handle.Class) QueryOption {
	return func(q *Query) { q.DeclaringClass = c }
}

// WithParameterTypes sets the positional parameter list. No arguments
// clears it; use WithParameterCount(0) to ask for methods without parameters.
func WithParameterTypes(types ...handle.Class) QueryOption {
	return func(q *Query) {
		if len(types) == 0 {
			q.ParameterTypes = nil
			return
		}
		q.ParameterTypes = append([]handle.Class{}, types...)
	}
}

func WithContainsParameterTypes(types ...handle.Class) QueryOption {
	return func(q *Query) { q.ContainsParameterTypes = append([]handle.Class{}, types...) }
}

func WithDexPriority(ordinals ...int) QueryOption {
	return func(q *Query) { q.DexPriority = append([]int{}, ordinals...) }
}

func WithFindFirst(first bool) QueryOption {
	return func(q *Query) { q.FindFirst = first }
}

// OrEmpty returns q, or a fresh wildcard query when q is nil.
func OrEmpty(q *Query) *Query {
	if q == nil {
		return NewQuery()
	}
	return q
}

// ClassResolver maps a class handle to its type descriptor.
type ClassResolver func(handle.Class) (string, bool)

// Criteria resolves the class handles of q. It reports false when any handle
// no longer resolves, in which case nothing can match.
func (q *Query) Criteria(resolve ClassResolver, defaultMode ShortyMode) (*Criteria, bool) {
	q = OrEmpty(q)
	c := &Criteria{
		ParameterCount: q.ParameterCount,
		Shorty:         q.ParameterShorty,
		ShortyMode:     q.ShortyMode,
	}
	if c.ParameterCount < 0 {
		c.ParameterCount = AnyCount
	}
	if c.ShortyMode == ShortyDefault {
		c.ShortyMode = defaultMode
	}
	if c.ShortyMode == ShortyDefault {
		c.ShortyMode = ShortyExact
	}

	one := func(h handle.Class) (string, bool) {
		if h.IsNone() {
			return "", true
		}
		return resolve(h)
	}
	var ok bool
	if c.ReturnType, ok = one(q.ReturnType); !ok {
		return nil, false
	}
	if c.DeclaringClass, ok = one(q.DeclaringClass); !ok {
		return nil, false
	}
	if q.ParameterTypes != nil {
		c.ParameterTypes = make([]string, len(q.ParameterTypes))
		for i, h := range q.ParameterTypes {
			if c.ParameterTypes[i], ok = one(h); !ok {
				return nil, false
			}
		}
	}
	seen := make(map[string]bool)
	for _, h := range q.ContainsParameterTypes {
		if h.IsNone() {
			continue
		}
		desc, ok := resolve(h)
		if !ok {
			return nil, false
		}
		if !seen[desc] {
			seen[desc] = true
			c.ContainsParameterTypes = append(c.ContainsParameterTypes, desc)
		}
	}
	return c, true
}

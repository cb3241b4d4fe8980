package match

import (
	"strconv"
	"strings"

	"github.com/dexhelper/internal/dex"
)

// Criteria is a Query expressed in descriptors. An empty descriptor means
// "any type".
type Criteria struct {
	ReturnType     string
	DeclaringClass string
	ParameterCount int
	Shorty         string
	ShortyMode     ShortyMode
	// ParameterTypes is nil when no positional list was given.
	ParameterTypes []string
	// ContainsParameterTypes holds distinct descriptors.
	ContainsParameterTypes []string
}

// Empty reports whether no predicate is set.
func (c *Criteria) Empty() bool {
	return c.ReturnType == "" && c.DeclaringClass == "" && c.ParameterCount == AnyCount &&
		c.Shorty == "" && c.ParameterTypes == nil && len(c.ContainsParameterTypes) == 0
}

// Contradictory reports whether the predicates can never hold together.
func (c *Criteria) Contradictory() bool {
	fixed := make(map[string]bool)
	wildcards := 0
	for _, p := range c.ParameterTypes {
		if p == "" {
			wildcards++
		} else {
			fixed[p] = true
		}
	}
	hasList := c.ParameterTypes != nil

	if c.ParameterCount != AnyCount {
		if hasList && c.ParameterCount != len(c.ParameterTypes) {
			return true
		}
		if c.ParameterCount < len(c.ContainsParameterTypes) {
			return true
		}
	}

	if c.Shorty != "" && c.ShortyMode == ShortyExact {
		arity := len(c.Shorty) - 1
		if c.ParameterCount != AnyCount && arity != c.ParameterCount {
			return true
		}
		if hasList && arity != len(c.ParameterTypes) {
			return true
		}
		if c.ReturnType != "" && dex.ShortyChar(c.ReturnType) != c.Shorty[0] {
			return true
		}
		for i, p := range c.ParameterTypes {
			if p != "" && i < arity && dex.ShortyChar(p) != c.Shorty[i+1] {
				return true
			}
		}
	}

	if hasList {
		missing := 0
		for _, t := range c.ContainsParameterTypes {
			if !fixed[t] {
				missing++
			}
		}
		if missing > wildcards {
			return true
		}
	}
	return false
}

// Key is a canonical rendering used for result caching.
func (c *Criteria) Key() string {
	var sb strings.Builder
	sb.WriteString("r=")
	sb.WriteString(c.ReturnType)
	sb.WriteString("|d=")
	sb.WriteString(c.DeclaringClass)
	sb.WriteString("|n=")
	sb.WriteString(strconv.Itoa(c.ParameterCount))
	sb.WriteString("|s=")
	sb.WriteString(c.Shorty)
	sb.WriteString("/")
	sb.WriteString(c.ShortyMode.String())
	if c.ParameterTypes != nil {
		sb.WriteString("|p=")
		sb.WriteString(strings.Join(c.ParameterTypes, ","))
	}
	sb.WriteString("|c=")
	sb.WriteString(strings.Join(c.ContainsParameterTypes, ","))
	return sb.String()
}

// TypeLookup finds a type id by descriptor; *dex.Image implements it.
type TypeLookup interface {
	FindType(desc string) (uint32, bool)
}

// Compiled is Criteria bound to the type ids of one dex.
type Compiled struct {
	returnType     uint32
	declaringClass uint32
	count          int
	shorty         string
	prefix         bool
	params         []uint32
	hasParams      bool
	contains       []uint32
}

// Compile binds c to one dex. It reports false when a required type does not
// exist there, so no method of that dex can match.
func (c *Criteria) Compile(types TypeLookup) (*Compiled, bool) {
	bind := func(desc string) (uint32, bool) {
		if desc == "" {
			return dex.NoIndex, true
		}
		return types.FindType(desc)
	}
	out := &Compiled{
		count:     c.ParameterCount,
		shorty:    c.Shorty,
		prefix:    c.ShortyMode == ShortyPrefix,
		hasParams: c.ParameterTypes != nil,
	}
	var ok bool
	if out.returnType, ok = bind(c.ReturnType); !ok {
		return nil, false
	}
	if out.declaringClass, ok = bind(c.DeclaringClass); !ok {
		return nil, false
	}
	if out.hasParams {
		out.params = make([]uint32, len(c.ParameterTypes))
		for i, p := range c.ParameterTypes {
			if out.params[i], ok = bind(p); !ok {
				return nil, false
			}
		}
	}
	for _, t := range c.ContainsParameterTypes {
		id, ok := types.FindType(t)
		if !ok {
			return nil, false
		}
		out.contains = append(out.contains, id)
	}
	return out, true
}

// MethodSig is the signature of a candidate method in one dex.
type MethodSig struct {
	Class  uint32
	Return uint32
	Shorty string
	Params []uint16
}

// Match evaluates every predicate against sig in the order the signature is
// cheapest to compare.
func (m *Compiled) Match(sig MethodSig) bool {
	if m.declaringClass != dex.NoIndex && sig.Class != m.declaringClass {
		return false
	}
	if m.returnType != dex.NoIndex && sig.Return != m.returnType {
		return false
	}
	if m.shorty != "" {
		if m.prefix {
			if !strings.HasPrefix(sig.Shorty, m.shorty) {
				return false
			}
		} else if sig.Shorty != m.shorty {
			return false
		}
	}
	if m.count != AnyCount && len(sig.Params) != m.count {
		return false
	}
	if m.hasParams {
		if len(sig.Params) != len(m.params) {
			return false
		}
		for i, want := range m.params {
			if want != dex.NoIndex && uint32(sig.Params[i]) != want {
				return false
			}
		}
	}
	for _, want := range m.contains {
		found := false
		for _, p := range sig.Params {
			if uint32(p) == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MatchesAll reports whether every candidate passes, letting callers skip
// signature checks.
func (m *Compiled) MatchesAll() bool {
	return m.declaringClass == dex.NoIndex && m.returnType == dex.NoIndex && m.shorty == "" &&
		m.count == AnyCount && !m.hasParams && len(m.contains) == 0
}

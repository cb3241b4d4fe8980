package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexhelper/internal/handle"
)

type typeTable map[string]uint32

func (t typeTable) FindType(desc string) (uint32, bool) {
	id, ok := t[desc]
	return id, ok
}

const (
	tInt    = 0
	tString = 1
	tBool   = 2
	tVoid   = 3
	tOwner  = 4
	tLong   = 5
)

var types = typeTable{
	"I": tInt, "Ljava/lang/String;": tString, "Z": tBool, "V": tVoid, "Lcom/a/C;": tOwner, "J": tLong,
}

// class handles carry the type id as member; the resolver below maps them back.
var (
	cInt    = handle.NewClass(0, handle.NoClassDef, tInt)
	cString = handle.NewClass(0, handle.NoClassDef, tString)
	cBool   = handle.NewClass(0, handle.NoClassDef, tBool)
	cOwner  = handle.NewClass(0, 0, tOwner)
	cStale  = handle.NewClass(1, 0, 99)
)

func resolver(h handle.Class) (string, bool) {
	if h.Dex() != 0 {
		return "", false
	}
	for desc, id := range types {
		if id == h.Member() {
			return desc, true
		}
	}
	return "", false
}

func compile(t *testing.T, q *Query, mode ShortyMode) *Compiled {
	t.Helper()
	crit, ok := q.Criteria(resolver, mode)
	require.True(t, ok)
	c, ok := crit.Compile(types)
	require.True(t, ok)
	return c
}

// zeroParams sets an empty positional list directly, which still means
// exactly zero parameters.
func zeroParams() *Query {
	q := NewQuery()
	q.ParameterTypes = []handle.Class{}
	return q
}

func sig(ret uint32, shorty string, params ...uint16) MethodSig {
	return MethodSig{Class: tOwner, Return: ret, Shorty: shorty, Params: params}
}

func TestMatch_Predicates(t *testing.T) {
	intString := sig(tBool, "ZIL", tInt, tString)
	onlyString := sig(tVoid, "VL", tString)
	noArgs := sig(tInt, "I")

	tests := []struct {
		name  string
		query *Query
		mode  ShortyMode
		want  []bool // intString, onlyString, noArgs
	}{
		{"empty", NewQuery(), ShortyDefault, []bool{true, true, true}},
		{"nil", nil, ShortyDefault, []bool{true, true, true}},
		{"return type", NewQuery(WithReturnType(cBool)), ShortyDefault, []bool{true, false, false}},
		{"declaring class", NewQuery(WithDeclaringClass(cOwner)), ShortyDefault, []bool{true, true, true}},
		{"count", NewQuery(WithParameterCount(1)), ShortyDefault, []bool{false, true, false}},
		{"count zero", NewQuery(WithParameterCount(0)), ShortyDefault, []bool{false, false, true}},
		{"shorty exact", NewQuery(WithShorty("ZIL")), ShortyDefault, []bool{true, false, false}},
		{"shorty exact is not prefix", NewQuery(WithShorty("ZI")), ShortyDefault, []bool{false, false, false}},
		{"shorty prefix", NewQuery(WithShortyPrefix("V")), ShortyDefault, []bool{false, true, false}},
		{"shorty prefix from engine default", NewQuery(WithShorty("Z")), ShortyPrefix, []bool{true, false, false}},
		{"query mode beats default", NewQuery(WithShorty("Z"), WithShortyMode(ShortyExact)), ShortyPrefix, []bool{false, false, false}},
		{"positional", NewQuery(WithParameterTypes(cInt, cString)), ShortyDefault, []bool{true, false, false}},
		{"positional order", NewQuery(WithParameterTypes(cString, cInt)), ShortyDefault, []bool{false, false, false}},
		{"positional wildcard", NewQuery(WithParameterTypes(handle.NoneClass, cString)), ShortyDefault, []bool{true, false, false}},
		{"positional empty is absent", NewQuery(WithParameterTypes()), ShortyDefault, []bool{true, true, true}},
		{"positional empty list", zeroParams(), ShortyDefault, []bool{false, false, true}},
		{"contains int", NewQuery(WithContainsParameterTypes(cInt)), ShortyDefault, []bool{true, false, false}},
		{"contains string", NewQuery(WithContainsParameterTypes(cString, cString)), ShortyDefault, []bool{true, true, false}},
		{"contains both", NewQuery(WithContainsParameterTypes(cString, cInt)), ShortyDefault, []bool{true, false, false}},
		{"anded", NewQuery(WithReturnType(cBool), WithParameterCount(1)), ShortyDefault, []bool{false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := compile(t, tt.query, tt.mode)
			got := []bool{c.Match(intString), c.Match(onlyString), c.Match(noArgs)}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_ContainsParameterTypesScenario(t *testing.T) {
	c := compile(t, NewQuery(WithContainsParameterTypes(cInt)), ShortyDefault)
	assert.True(t, c.Match(sig(tVoid, "VIL", tInt, tString)))
	assert.False(t, c.Match(sig(tVoid, "VL", tString)))
}

func TestMatch_DeclaringClassMismatch(t *testing.T) {
	c := compile(t, NewQuery(WithDeclaringClass(cOwner)), ShortyDefault)
	other := sig(tVoid, "V")
	other.Class = tString
	assert.False(t, c.Match(other))
}

func TestMatchesAll(t *testing.T) {
	assert.True(t, compile(t, NewQuery(), ShortyDefault).MatchesAll())
	assert.False(t, compile(t, NewQuery(WithParameterCount(2)), ShortyDefault).MatchesAll())
	assert.True(t, compile(t, NewQuery(WithParameterTypes()), ShortyDefault).MatchesAll())
	assert.True(t, compile(t, NewQuery(WithParameterTypes(cInt), WithParameterTypes()), ShortyDefault).MatchesAll())
}

func TestCriteria_StaleHandle(t *testing.T) {
	for _, q := range []*Query{
		NewQuery(WithReturnType(cStale)),
		NewQuery(WithDeclaringClass(cStale)),
		NewQuery(WithParameterTypes(cInt, cStale)),
		NewQuery(WithContainsParameterTypes(cStale)),
	} {
		_, ok := q.Criteria(resolver, ShortyExact)
		assert.False(t, ok)
	}
}

func TestCriteria_CompileMissingType(t *testing.T) {
	crit := &Criteria{ReturnType: "Lmissing/T;", ParameterCount: AnyCount}
	_, ok := crit.Compile(types)
	assert.False(t, ok)

	crit = &Criteria{ParameterCount: AnyCount, ContainsParameterTypes: []string{"Lmissing/T;"}}
	_, ok = crit.Compile(types)
	assert.False(t, ok)

	crit = &Criteria{ParameterCount: AnyCount, ParameterTypes: []string{"", "Lmissing/T;"}}
	_, ok = crit.Compile(types)
	assert.False(t, ok)
}

func TestCriteria_Contradictory(t *testing.T) {
	tests := []struct {
		name  string
		query *Query
		want  bool
	}{
		{"empty", NewQuery(), false},
		{"count vs list", NewQuery(WithParameterCount(1), WithParameterTypes(cInt, cString)), true},
		{"count agrees with list", NewQuery(WithParameterCount(2), WithParameterTypes(cInt, cString)), false},
		{"count below contains", NewQuery(WithParameterCount(1), WithContainsParameterTypes(cInt, cString)), true},
		{"contains duplicates collapse", NewQuery(WithParameterCount(1), WithContainsParameterTypes(cInt, cInt)), false},
		{"list misses contained", NewQuery(WithParameterTypes(cString), WithContainsParameterTypes(cInt)), true},
		{"list covers contained", NewQuery(WithParameterTypes(cInt, cString), WithContainsParameterTypes(cInt)), false},
		{"wildcard covers contained", NewQuery(WithParameterTypes(handle.NoneClass, cString), WithContainsParameterTypes(cInt)), false},
		{"too few wildcards", NewQuery(WithParameterTypes(handle.NoneClass), WithContainsParameterTypes(cInt, cBool)), true},
		{"shorty arity vs count", NewQuery(WithShorty("VII"), WithParameterCount(1)), true},
		{"shorty arity vs list", NewQuery(WithShorty("VI"), WithParameterTypes(cInt, cString)), true},
		{"shorty char vs list", NewQuery(WithShorty("VL"), WithParameterTypes(cInt)), true},
		{"shorty char vs return", NewQuery(WithShorty("VI"), WithReturnType(cBool)), true},
		{"shorty agrees", NewQuery(WithShorty("ZIL"), WithReturnType(cBool), WithParameterTypes(cInt, cString)), false},
		{"prefix shorty is not checked", NewQuery(WithShortyPrefix("VII"), WithParameterCount(0)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crit, ok := tt.query.Criteria(resolver, ShortyExact)
			require.True(t, ok)
			assert.Equal(t, tt.want, crit.Contradictory())
		})
	}
}

func TestCriteria_Key(t *testing.T) {
	a, _ := NewQuery(WithParameterTypes(cInt), WithFindFirst(true)).Criteria(resolver, ShortyExact)
	b, _ := NewQuery(WithParameterTypes(cInt)).Criteria(resolver, ShortyExact)
	c, _ := NewQuery(WithContainsParameterTypes(cInt)).Criteria(resolver, ShortyExact)
	d, _ := NewQuery().Criteria(resolver, ShortyExact)
	e, _ := NewQuery(WithParameterTypes()).Criteria(resolver, ShortyExact)
	f, _ := NewQuery(WithParameterCount(0)).Criteria(resolver, ShortyExact)

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, b.Key(), c.Key())
	assert.Equal(t, d.Key(), e.Key())
	assert.NotEqual(t, d.Key(), f.Key())
	assert.True(t, d.Empty())
	assert.True(t, e.Empty())
}

func TestParseShortyMode(t *testing.T) {
	for in, want := range map[string]ShortyMode{"": ShortyDefault, "EXACT": ShortyExact, "prefix": ShortyPrefix} {
		got, err := ParseShortyMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseShortyMode("fuzzy")
	assert.Error(t, err)
	assert.Equal(t, "prefix", ShortyPrefix.String())
}

// Package engine answers structural find queries over an index.
//
// Every family walks the dexes in priority order and, within a dex, the
// defined methods (or fields) in traversal order. Signature predicates run
// before any bytecode is observed; instruction predicates only run on
// candidates that already passed them.
package engine

import (
	"context"
	"slices"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dexhelper/internal/codec"
	"github.com/dexhelper/internal/handle"
	"github.com/dexhelper/internal/index"
	"github.com/dexhelper/internal/match"
	"github.com/dexhelper/internal/scan"
	"github.com/dexhelper/pkg/telemetry"
	"github.com/dexhelper/pkg/utils"
)

// Family names a find operation; it prefixes span names and cache keys.
type Family string

const (
	FamilyString   Family = "string"
	FamilyInvoking Family = "invoking"
	FamilyInvoked  Family = "invoked"
	FamilyGetting  Family = "getting"
	FamilySetting  Family = "setting"
	FamilyField    Family = "field"
	FamilyMethod   Family = "method"
)

// Options configures an Engine.
type Options struct {
	// ResultCache is the number of memoized results; 0 disables the cache.
	ResultCache int
	// ShortyMode applies to queries that leave their own mode unset.
	ShortyMode match.ShortyMode
	Logger     utils.Logger
}

// Engine is safe for concurrent use.
type Engine struct {
	idx    *index.Index
	codec  *codec.Codec
	opts   Options
	cache  *lru.Cache[string, any]
	logger utils.Logger
}

// New creates an engine over idx.
func New(idx *index.Index, opts Options) (*Engine, error) {
	e := &Engine{
		idx:    idx,
		codec:  codec.New(idx),
		opts:   opts,
		logger: utils.OrNull(opts.Logger),
	}
	if opts.ResultCache > 0 {
		c, err := lru.New[string, any](opts.ResultCache)
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	return e, nil
}

// Codec returns the handle codec bound to the same image set.
func (e *Engine) Codec() *codec.Codec { return e.codec }

// Index returns the underlying index.
func (e *Engine) Index() *index.Index { return e.idx }

// Purge drops memoized results.
func (e *Engine) Purge() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// order returns the dexes to visit. Out-of-range and repeated ordinals in
// priority are skipped; an empty priority visits every dex.
func (e *Engine) order(priority []int) []int {
	if len(priority) == 0 {
		out := make([]int, e.idx.Len())
		for i := range out {
			out[i] = i
		}
		return out
	}
	seen := make(map[int]bool, len(priority))
	out := make([]int, 0, len(priority))
	for _, ord := range priority {
		if !e.idx.Valid(ord) || seen[ord] {
			continue
		}
		seen[ord] = true
		out = append(out, ord)
	}
	return out
}

// call carries the per-query state shared by every family.
type call struct {
	family    Family
	anchor    string
	crit      *match.Criteria
	order     []int
	findFirst bool
	span      trace.Span
}

func (c *call) key() string {
	var sb strings.Builder
	sb.WriteString(string(c.family))
	sb.WriteString("|a=")
	sb.WriteString(c.anchor)
	if c.crit != nil {
		sb.WriteString("|")
		sb.WriteString(c.crit.Key())
	}
	sb.WriteString("|o=")
	for i, ord := range c.order {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(ord))
	}
	if c.findFirst {
		sb.WriteString("|first")
	}
	return sb.String()
}

// begin resolves the query. It returns a nil call when the query cannot
// match anything, in which case the family returns an empty result.
func (e *Engine) begin(ctx context.Context, family Family, anchor string, q *match.Query) (context.Context, *call) {
	q = match.OrEmpty(q)
	ctx, span := telemetry.Tracer().Start(ctx, "dexhelper.find."+string(family))
	c := &call{family: family, anchor: anchor, order: e.order(q.DexPriority), findFirst: q.FindFirst, span: span}
	span.SetAttributes(
		attribute.String("find.family", string(family)),
		attribute.Int("find.dex_count", len(c.order)),
		attribute.Bool("find.find_first", q.FindFirst),
	)
	crit, ok := q.Criteria(e.codec.ClassDescriptor, e.opts.ShortyMode)
	if !ok {
		e.logger.Debug("find %s: query names a class handle that does not resolve", family)
		return ctx, nil
	}
	if crit.Contradictory() {
		e.logger.Debug("find %s: contradictory query %s", family, crit.Key())
		return ctx, nil
	}
	c.crit = crit
	return ctx, c
}

func (c *call) finish(n int, err error) {
	c.span.SetAttributes(attribute.Int("find.result_count", n))
	if err != nil {
		c.span.RecordError(err)
	}
	c.span.End()
}

func (e *Engine) cached(c *call) (any, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.Get(c.key())
}

func (e *Engine) remember(c *call, v any) {
	if e.cache != nil {
		e.cache.Add(c.key(), v)
	}
}

// methodHits runs a method family: visit yields the matching positions of
// one dex given its compiled signature criteria.
func (e *Engine) methodHits(ctx context.Context, c *call, visit func(ord int, sig *match.Compiled) ([]int32, error)) ([]handle.Method, error) {
	if v, ok := e.cached(c); ok {
		return slices.Clone(v.([]handle.Method)), nil
	}
	out := []handle.Method{}
	for _, ord := range c.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sig, ok := c.crit.Compile(e.idx.Image(ord))
		if !ok {
			continue
		}
		hits, err := visit(ord, sig)
		if err != nil {
			return nil, err
		}
		methods := e.idx.Methods(ord)
		for _, pos := range hits {
			out = append(out, e.codec.CanonicalMethod(ord, methods[pos].ID))
		}
		if c.findFirst && len(out) > 0 {
			out = out[:1]
			break
		}
	}
	e.remember(c, slices.Clone(out))
	return out, nil
}

// sigMatch checks the signature of the method at pos.
func (e *Engine) sigMatch(ord int, sig *match.Compiled, pos int) bool {
	if sig.MatchesAll() {
		return true
	}
	return sig.Match(e.idx.MethodSig(ord, e.idx.Methods(ord)[pos].ID))
}

// scanFor walks the methods of a dex with bodies, keeping those whose
// signature matches and whose observation satisfies pred.
func (e *Engine) scanFor(ord int, sig *match.Compiled, first bool, pred func(*scan.Observation) bool) ([]int32, error) {
	var hits []int32
	for pos, m := range e.idx.Methods(ord) {
		if !m.HasCode() || !e.sigMatch(ord, sig, pos) {
			continue
		}
		obs, err := e.idx.Observe(ord, pos)
		if err != nil {
			return nil, err
		}
		if pred(obs) {
			hits = append(hits, int32(pos))
			if first {
				break
			}
		}
	}
	return hits, nil
}

// filterPositions keeps the positions whose signature matches.
func (e *Engine) filterPositions(ord int, sig *match.Compiled, first bool, positions []int32) []int32 {
	var hits []int32
	for _, pos := range positions {
		if e.sigMatch(ord, sig, int(pos)) {
			hits = append(hits, pos)
			if first {
				break
			}
		}
	}
	return hits
}

// FindMethodUsingString returns the methods loading str, or any string
// starting with str when matchPrefix is set.
func (e *Engine) FindMethodUsingString(ctx context.Context, str string, matchPrefix bool, q *match.Query) (res []handle.Method, err error) {
	anchor := "=" + str
	if matchPrefix {
		anchor = "^" + str
	}
	ctx, c := e.begin(ctx, FamilyString, anchor, q)
	if c == nil {
		endEmpty(ctx)
		return []handle.Method{}, nil
	}
	defer func() { c.finish(len(res), err) }()

	return e.methodHits(ctx, c, func(ord int, sig *match.Compiled) ([]int32, error) {
		img := e.idx.Image(ord)
		var lo, hi uint32
		if matchPrefix {
			lo, hi = img.StringRange(str)
		} else if id, ok := img.FindString(str); ok {
			lo, hi = id, id+1
		}
		if lo >= hi {
			return nil, nil
		}
		if e.idx.Full(ord) {
			r, err := e.idx.Reverse(ctx, ord)
			if err != nil {
				return nil, err
			}
			var positions []int32
			for id := lo; id < hi; id++ {
				positions = append(positions, r.Strings[id]...)
			}
			if hi-lo > 1 {
				slices.Sort(positions)
				positions = slices.Compact(positions)
			}
			return e.filterPositions(ord, sig, c.findFirst, positions), nil
		}
		return e.scanFor(ord, sig, c.findFirst, func(obs *scan.Observation) bool {
			return obs.HasStringIn(lo, hi)
		})
	})
}

// FindMethodInvoking returns the callers of method.
func (e *Engine) FindMethodInvoking(ctx context.Context, method handle.Method, q *match.Query) (res []handle.Method, err error) {
	ref, derr := e.codec.DecodeMethod(method)
	ctx, c := e.begin(ctx, FamilyInvoking, ref.String(), q)
	if c == nil || derr != nil {
		endEmpty(ctx)
		return []handle.Method{}, nil
	}
	defer func() { c.finish(len(res), err) }()

	return e.methodHits(ctx, c, func(ord int, sig *match.Compiled) ([]int32, error) {
		callee, ok := e.idx.FindMethod(ord, ref)
		if !ok {
			return nil, nil
		}
		if e.idx.Full(ord) {
			r, err := e.idx.Reverse(ctx, ord)
			if err != nil {
				return nil, err
			}
			return e.filterPositions(ord, sig, c.findFirst, r.Callers[callee]), nil
		}
		return e.scanFor(ord, sig, c.findFirst, func(obs *scan.Observation) bool {
			return obs.HasInvoke(callee)
		})
	})
}

// FindMethodInvoked returns the methods invoked by method, in method-id
// order within each dex that defines it. Callees need not be defined in
// that dex.
func (e *Engine) FindMethodInvoked(ctx context.Context, method handle.Method, q *match.Query) (res []handle.Method, err error) {
	ref, derr := e.codec.DecodeMethod(method)
	ctx, c := e.begin(ctx, FamilyInvoked, ref.String(), q)
	if c == nil || derr != nil {
		endEmpty(ctx)
		return []handle.Method{}, nil
	}
	defer func() { c.finish(len(res), err) }()

	if v, ok := e.cached(c); ok {
		return slices.Clone(v.([]handle.Method)), nil
	}
	out := []handle.Method{}
	seen := make(map[handle.Method]struct{})
	for _, ord := range c.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := e.idx.FindMethod(ord, ref)
		if !ok {
			continue
		}
		pos, ok := e.idx.MethodPos(ord, id)
		if !ok {
			continue
		}
		sig, ok := c.crit.Compile(e.idx.Image(ord))
		if !ok {
			continue
		}
		obs, err := e.idx.Observe(ord, pos)
		if err != nil {
			return nil, err
		}
		for _, callee := range obs.Invokes {
			if !sig.MatchesAll() && !sig.Match(e.idx.MethodSig(ord, callee)) {
				continue
			}
			// A callee another dex defines resolves to that definition.
			h := e.codec.CanonicalMethod(ord, callee)
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
			if c.findFirst {
				break
			}
		}
		if c.findFirst && len(out) > 0 {
			break
		}
	}
	e.remember(c, slices.Clone(out))
	return out, nil
}

// FindMethodGettingField returns the methods reading field.
func (e *Engine) FindMethodGettingField(ctx context.Context, field handle.Field, q *match.Query) ([]handle.Method, error) {
	return e.fieldAccess(ctx, FamilyGetting, field, q)
}

// FindMethodSettingField returns the methods writing field.
func (e *Engine) FindMethodSettingField(ctx context.Context, field handle.Field, q *match.Query) ([]handle.Method, error) {
	return e.fieldAccess(ctx, FamilySetting, field, q)
}

func (e *Engine) fieldAccess(ctx context.Context, family Family, field handle.Field, q *match.Query) (res []handle.Method, err error) {
	ref, derr := e.codec.DecodeField(field)
	ctx, c := e.begin(ctx, family, ref.String(), q)
	if c == nil || derr != nil {
		endEmpty(ctx)
		return []handle.Method{}, nil
	}
	defer func() { c.finish(len(res), err) }()

	return e.methodHits(ctx, c, func(ord int, sig *match.Compiled) ([]int32, error) {
		id, ok := e.idx.FindField(ord, ref)
		if !ok {
			return nil, nil
		}
		if e.idx.Full(ord) {
			r, err := e.idx.Reverse(ctx, ord)
			if err != nil {
				return nil, err
			}
			accessors := r.Getters
			if family == FamilySetting {
				accessors = r.Setters
			}
			return e.filterPositions(ord, sig, c.findFirst, accessors[id]), nil
		}
		return e.scanFor(ord, sig, c.findFirst, func(obs *scan.Observation) bool {
			if family == FamilySetting {
				return obs.HasPut(id)
			}
			return obs.HasGet(id)
		})
	})
}

// FindMethod returns the defined methods whose signature matches q. Methods
// without a body are candidates too.
func (e *Engine) FindMethod(ctx context.Context, q *match.Query) (res []handle.Method, err error) {
	ctx, c := e.begin(ctx, FamilyMethod, "", q)
	if c == nil {
		endEmpty(ctx)
		return []handle.Method{}, nil
	}
	defer func() { c.finish(len(res), err) }()

	return e.methodHits(ctx, c, func(ord int, sig *match.Compiled) ([]int32, error) {
		var hits []int32
		for pos := range e.idx.Methods(ord) {
			if e.sigMatch(ord, sig, pos) {
				hits = append(hits, int32(pos))
				if c.findFirst {
					break
				}
			}
		}
		return hits, nil
	})
}

// FindField returns the defined fields whose declared type is typ, or every
// defined field when typ is handle.NoneClass.
func (e *Engine) FindField(ctx context.Context, typ handle.Class, dexPriority []int, findFirst bool) (res []handle.Field, err error) {
	desc := ""
	if !typ.IsNone() {
		ref, derr := e.codec.DecodeClass(typ)
		if derr != nil {
			return []handle.Field{}, nil
		}
		desc = ref.Descriptor
	}
	q := match.NewQuery(match.WithDexPriority(dexPriority...), match.WithFindFirst(findFirst))
	ctx, c := e.begin(ctx, FamilyField, desc, q)
	defer func() { c.finish(len(res), err) }()

	if v, ok := e.cached(c); ok {
		return slices.Clone(v.([]handle.Field)), nil
	}
	out := []handle.Field{}
	for _, ord := range c.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fields := e.idx.Fields(ord)
		img := e.idx.Image(ord)
		var positions []int32
		switch {
		case desc == "":
			for pos := range fields {
				positions = append(positions, int32(pos))
			}
		case e.idx.Full(ord):
			t, ok := img.FindType(desc)
			if !ok {
				continue
			}
			r, err := e.idx.Reverse(ctx, ord)
			if err != nil {
				return nil, err
			}
			positions = r.FieldsByType[t]
		default:
			t, ok := img.FindType(desc)
			if !ok {
				continue
			}
			for pos, f := range fields {
				if uint32(img.Field(f.ID).Type) == t {
					positions = append(positions, int32(pos))
				}
			}
		}
		for _, pos := range positions {
			out = append(out, e.codec.CanonicalField(ord, fields[pos].ID))
			if findFirst {
				break
			}
		}
		if findFirst && len(out) > 0 {
			break
		}
	}
	e.remember(c, slices.Clone(out))
	return out, nil
}

func endEmpty(ctx context.Context) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("find.result_count", 0))
	span.End()
}

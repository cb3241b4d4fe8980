// Package index merges parsed dex images into query structures.
//
// Each image gets a slot. A slot lists its defined methods and fields in
// traversal order (class defs in table order, direct then virtual methods,
// static then instance fields); positions in those lists are the unit every
// query result is ordered by.
//
// Bytecode observations are produced lazily, one method at a time, and
// memoized under the slot lock. The reverse maps (string, callee, getter,
// setter) are built per slot on first request, or for every slot up front by
// BuildFull.
package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/handle"
	"github.com/dexhelper/internal/match"
	"github.com/dexhelper/internal/scan"
	"github.com/dexhelper/pkg/collections"
	"github.com/dexhelper/pkg/errors"
	"github.com/dexhelper/pkg/telemetry"
	"github.com/dexhelper/pkg/utils"
)

// Options configures Build.
type Options struct {
	// Eager builds every reverse map before Build returns.
	Eager bool
	// MaxWorkers bounds parallel slot builds; <= 0 means one per slot.
	MaxWorkers int
	Logger     utils.Logger
}

// Method is a method defined by a class def of one dex.
type Method struct {
	ID          uint32
	ClassDef    uint32
	AccessFlags uint32
	CodeOff     uint32
}

// HasCode reports whether the method has a body.
func (m Method) HasCode() bool { return m.CodeOff != 0 }

// Field is a field defined by a class def of one dex.
type Field struct {
	ID          uint32
	ClassDef    uint32
	AccessFlags uint32
}

// Reverse holds the inverted observations of one slot. Every list holds
// method (or field) positions in ascending traversal order.
type Reverse struct {
	Strings      map[uint32][]int32
	Callers      map[uint32][]int32
	Getters      map[uint32][]int32
	Setters      map[uint32][]int32
	FieldsByType map[uint32][]int32
}

type slot struct {
	img     *dex.Image
	methods []Method
	fields  []Field

	methodPos map[uint32]int32
	fieldPos  map[uint32]int32

	mu      sync.RWMutex
	scanned *collections.Bitset
	obs     []*scan.Observation

	buildMu sync.Mutex
	reverse atomic.Pointer[Reverse]

	refsOnce     sync.Once
	methodsByRef map[string]uint32
	fieldsByRef  map[string]uint32
}

// Index is safe for concurrent use once built.
type Index struct {
	slots  []*slot
	opts   Options
	logger utils.Logger
}

// Build indexes images, whose ordinals must equal their positions.
func Build(ctx context.Context, images []*dex.Image, opts Options) (*Index, error) {
	if len(images) > handle.MaxOrdinal+1 {
		return nil, errors.Newf(errors.CodeInvalidInput, "%d images exceed the %d addressable ordinals", len(images), handle.MaxOrdinal+1)
	}
	idx := &Index{opts: opts, logger: utils.OrNull(opts.Logger)}
	for i, img := range images {
		if img.Ordinal != i {
			return nil, errors.Newf(errors.CodeInvalidInput, "image %s has ordinal %d at position %d", img.Name, img.Ordinal, i)
		}
		if len(img.ClassDefs()) > handle.MaxClassDef+1 {
			return nil, errors.Newf(errors.CodeInvalidInput, "image %s has too many class defs", img.Name)
		}
		idx.slots = append(idx.slots, newSlot(img))
	}
	if opts.Eager {
		if err := idx.BuildFull(ctx); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func newSlot(img *dex.Image) *slot {
	s := &slot{
		img:       img,
		methodPos: make(map[uint32]int32),
		fieldPos:  make(map[uint32]int32),
	}
	for ci, cd := range img.ClassDefs() {
		for _, m := range cd.Data.Methods() {
			if _, dup := s.methodPos[m.Method]; !dup {
				s.methodPos[m.Method] = int32(len(s.methods))
			}
			s.methods = append(s.methods, Method{ID: m.Method, ClassDef: uint32(ci), AccessFlags: m.AccessFlags, CodeOff: m.CodeOff})
		}
		for _, f := range cd.Data.Fields() {
			if _, dup := s.fieldPos[f.Field]; !dup {
				s.fieldPos[f.Field] = int32(len(s.fields))
			}
			s.fields = append(s.fields, Field{ID: f.Field, ClassDef: uint32(ci), AccessFlags: f.AccessFlags})
		}
	}
	s.scanned = collections.NewBitset(len(s.methods))
	s.obs = make([]*scan.Observation, len(s.methods))
	return s
}

// Len returns the number of images.
func (x *Index) Len() int { return len(x.slots) }

// Image returns the image with the given ordinal.
func (x *Index) Image(ordinal int) *dex.Image { return x.slots[ordinal].img }

// Valid reports whether ordinal names an indexed image.
func (x *Index) Valid(ordinal int) bool { return ordinal >= 0 && ordinal < len(x.slots) }

// Methods returns the defined methods of a dex in traversal order.
func (x *Index) Methods(ordinal int) []Method { return x.slots[ordinal].methods }

// Fields returns the defined fields of a dex in traversal order.
func (x *Index) Fields(ordinal int) []Field { return x.slots[ordinal].fields }

// MethodPos returns the traversal position of a defined method id.
func (x *Index) MethodPos(ordinal int, id uint32) (int, bool) {
	pos, ok := x.slots[ordinal].methodPos[id]
	return int(pos), ok
}

// FieldPos returns the traversal position of a defined field id.
func (x *Index) FieldPos(ordinal int, id uint32) (int, bool) {
	pos, ok := x.slots[ordinal].fieldPos[id]
	return int(pos), ok
}

// Observe returns the memoized observation of the method at pos, scanning it
// on first use. Body-less methods observe nothing.
func (x *Index) Observe(ordinal, pos int) (*scan.Observation, error) {
	s := x.slots[ordinal]
	m := s.methods[pos]
	if !m.HasCode() {
		return scan.Empty, nil
	}

	s.mu.RLock()
	if s.scanned.Test(pos) {
		obs := s.obs[pos]
		s.mu.RUnlock()
		return obs, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanned.Test(pos) {
		return s.obs[pos], nil
	}
	obs, err := s.scan(m)
	if err != nil {
		return nil, err
	}
	s.obs[pos] = obs
	s.scanned.Set(pos)
	return obs, nil
}

func (s *slot) scan(m Method) (*scan.Observation, error) {
	code, err := s.img.Code(m.CodeOff)
	if err != nil {
		return nil, err
	}
	obs, err := scan.Scan(code.Insns)
	if err != nil {
		ref := methodRef(s.img, m.ID)
		return nil, errors.IndexExhausted(s.img.Name, "%s: %v", ref, err)
	}
	return obs, nil
}

// Reverse returns the reverse maps of a dex, building them on first use.
// A failed build is not recorded, so the next call fails the same way.
func (x *Index) Reverse(ctx context.Context, ordinal int) (*Reverse, error) {
	s := x.slots[ordinal]
	if r := s.reverse.Load(); r != nil {
		return r, nil
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	if r := s.reverse.Load(); r != nil {
		return r, nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "dexhelper.index.reverse")
	defer span.End()
	span.SetAttributes(attribute.Int("dex.ordinal", ordinal), attribute.Int("dex.methods", len(s.methods)))

	r := &Reverse{
		Strings:      make(map[uint32][]int32),
		Callers:      make(map[uint32][]int32),
		Getters:      make(map[uint32][]int32),
		Setters:      make(map[uint32][]int32),
		FieldsByType: make(map[uint32][]int32),
	}
	for pos := range s.methods {
		if pos%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		obs, err := x.Observe(ordinal, pos)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		p := int32(pos)
		for _, id := range obs.Strings {
			r.Strings[id] = append(r.Strings[id], p)
		}
		for _, id := range obs.Invokes {
			r.Callers[id] = append(r.Callers[id], p)
		}
		for _, id := range obs.Gets {
			r.Getters[id] = append(r.Getters[id], p)
		}
		for _, id := range obs.Puts {
			r.Setters[id] = append(r.Setters[id], p)
		}
	}
	for pos, f := range s.fields {
		t := uint32(s.img.Field(f.ID).Type)
		r.FieldsByType[t] = append(r.FieldsByType[t], int32(pos))
	}
	s.reverse.Store(r)
	x.logger.WithField("dex", ordinal).Debug("reverse maps built: %d strings, %d callees, %d fields read, %d fields written",
		len(r.Strings), len(r.Callers), len(r.Getters), len(r.Setters))
	return r, nil
}

// Full reports whether the reverse maps of a dex are built.
func (x *Index) Full(ordinal int) bool {
	return x.slots[ordinal].reverse.Load() != nil
}

// BuildFull builds the reverse maps of every dex in parallel. Calling it
// again after success is a no-op.
func (x *Index) BuildFull(ctx context.Context) error {
	ctx, span := telemetry.Tracer().Start(ctx, "dexhelper.index.build_full")
	defer span.End()

	timer := utils.NewTimer("full cache", utils.WithLogger(x.logger))
	pt := timer.Start("reverse maps")
	defer pt.Stop()

	g, gctx := errgroup.WithContext(ctx)
	workers := x.opts.MaxWorkers
	if workers <= 0 {
		workers = len(x.slots)
	}
	g.SetLimit(max(workers, 1))
	for ord := range x.slots {
		if x.Full(ord) {
			continue
		}
		g.Go(func() error {
			_, err := x.Reverse(gctx, ord)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// MethodSig returns the signature of method id in a dex.
func (x *Index) MethodSig(ordinal int, id uint32) match.MethodSig {
	img := x.slots[ordinal].img
	mid := img.Method(id)
	proto := img.Proto(uint32(mid.Proto))
	return match.MethodSig{
		Class:  uint32(mid.Class),
		Return: proto.ReturnType,
		Shorty: img.String(proto.Shorty),
		Params: proto.Params,
	}
}

// MethodRef names method id of a dex.
func (x *Index) MethodRef(ordinal int, id uint32) handle.MethodRef {
	return methodRef(x.slots[ordinal].img, id)
}

func methodRef(img *dex.Image, id uint32) handle.MethodRef {
	mid := img.Method(id)
	return handle.MethodRef{
		Class:  img.TypeDescriptor(uint32(mid.Class)),
		Name:   img.MethodName(id),
		Params: img.MethodParamDescriptors(id),
		Return: img.TypeDescriptor(img.MethodProto(id).ReturnType),
	}
}

// FieldRef names field id of a dex.
func (x *Index) FieldRef(ordinal int, id uint32) handle.FieldRef {
	img := x.slots[ordinal].img
	fid := img.Field(id)
	return handle.FieldRef{
		Class: img.TypeDescriptor(uint32(fid.Class)),
		Name:  img.FieldName(id),
		Type:  img.TypeDescriptor(uint32(fid.Type)),
	}
}

func (s *slot) buildRefs() {
	s.refsOnce.Do(func() {
		s.methodsByRef = make(map[string]uint32, s.img.MethodCount())
		for id := 0; id < s.img.MethodCount(); id++ {
			key := methodRef(s.img, uint32(id)).String()
			if _, dup := s.methodsByRef[key]; !dup {
				s.methodsByRef[key] = uint32(id)
			}
		}
		s.fieldsByRef = make(map[string]uint32, s.img.FieldCount())
		for id := 0; id < s.img.FieldCount(); id++ {
			fid := s.img.Field(uint32(id))
			key := handle.FieldRef{
				Class: s.img.TypeDescriptor(uint32(fid.Class)),
				Name:  s.img.FieldName(uint32(id)),
				Type:  s.img.TypeDescriptor(uint32(fid.Type)),
			}.String()
			if _, dup := s.fieldsByRef[key]; !dup {
				s.fieldsByRef[key] = uint32(id)
			}
		}
	})
}

// FindMethod returns the method id of ref in a dex.
func (x *Index) FindMethod(ordinal int, ref handle.MethodRef) (uint32, bool) {
	s := x.slots[ordinal]
	s.buildRefs()
	id, ok := s.methodsByRef[ref.String()]
	return id, ok
}

// FindField returns the field id of ref in a dex.
func (x *Index) FindField(ordinal int, ref handle.FieldRef) (uint32, bool) {
	s := x.slots[ordinal]
	s.buildRefs()
	id, ok := s.fieldsByRef[ref.String()]
	return id, ok
}

// MethodClassDef returns the class def declaring method id, or
// handle.NoClassDef when the dex only references it.
func (x *Index) MethodClassDef(ordinal int, id uint32) uint32 {
	s := x.slots[ordinal]
	if pos, ok := s.methodPos[id]; ok {
		return s.methods[pos].ClassDef
	}
	return handle.NoClassDef
}

// FieldClassDef returns the class def declaring field id, or handle.NoClassDef.
func (x *Index) FieldClassDef(ordinal int, id uint32) uint32 {
	s := x.slots[ordinal]
	if pos, ok := s.fieldPos[id]; ok {
		return s.fields[pos].ClassDef
	}
	return handle.NoClassDef
}

// TypeClassDef returns the class def of type id, or handle.NoClassDef.
func (x *Index) TypeClassDef(ordinal int, typeID uint32) uint32 {
	if cd, ok := x.slots[ordinal].img.ClassDefOf(typeID); ok {
		return cd
	}
	return handle.NoClassDef
}

// SlotStats summarizes one dex for reporting.
type SlotStats struct {
	Ordinal  int    `json:"ordinal"`
	Name     string `json:"name"`
	Classes  int    `json:"classes"`
	Methods  int    `json:"methods"`
	Fields   int    `json:"fields"`
	Strings  int    `json:"strings"`
	Scanned  int    `json:"scanned"`
	Full     bool   `json:"full"`
	Callees  int    `json:"callees,omitempty"`
	Literals int    `json:"literals,omitempty"`
}

// Stats reports per-dex counts.
func (x *Index) Stats() []SlotStats {
	out := make([]SlotStats, len(x.slots))
	for i, s := range x.slots {
		s.mu.RLock()
		scanned := s.scanned.Count()
		s.mu.RUnlock()
		st := SlotStats{
			Ordinal: i,
			Name:    s.img.Name,
			Classes: len(s.img.ClassDefs()),
			Methods: len(s.methods),
			Fields:  len(s.fields),
			Strings: s.img.StringCount(),
			Scanned: scanned,
		}
		if r := s.reverse.Load(); r != nil {
			st.Full = true
			st.Callees = len(r.Callers)
			st.Literals = len(r.Strings)
		}
		out[i] = st
	}
	return out
}

// String implements fmt.Stringer for debugging.
func (s SlotStats) String() string {
	return fmt.Sprintf("dex %d (%s): %d classes, %d methods, %d fields, %d/%d scanned",
		s.Ordinal, s.Name, s.Classes, s.Methods, s.Fields, s.Scanned, s.Methods)
}

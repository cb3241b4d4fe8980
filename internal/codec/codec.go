// Package codec converts between packed handles and descriptor references
// over one loaded image set.
package codec

import (
	"slices"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/handle"
	"github.com/dexhelper/internal/index"
	"github.com/dexhelper/pkg/errors"
)

// Codec is immutable and safe for concurrent use.
type Codec struct {
	idx *index.Index
}

// New creates a codec over idx.
func New(idx *index.Index) *Codec {
	return &Codec{idx: idx}
}

func notFound(format string, args ...interface{}) error {
	return errors.Newf(errors.CodeHandleNotFound, format, args...)
}

// EncodeMethod returns the handle of ref in the first dex that defines it,
// falling back to the first dex that references it.
func (c *Codec) EncodeMethod(ref handle.MethodRef) (handle.Method, error) {
	fallback := handle.NoneMethod
	for ord := 0; ord < c.idx.Len(); ord++ {
		id, ok := c.idx.FindMethod(ord, ref)
		if !ok {
			continue
		}
		def := c.idx.MethodClassDef(ord, id)
		if def != handle.NoClassDef {
			return handle.NewMethod(ord, def, id), nil
		}
		if fallback.IsNone() {
			fallback = handle.NewMethod(ord, def, id)
		}
	}
	if fallback.IsNone() {
		return fallback, notFound("method %s is not referenced by any dex", ref)
	}
	return fallback, nil
}

// EncodeField resolves ref the same way as EncodeMethod.
func (c *Codec) EncodeField(ref handle.FieldRef) (handle.Field, error) {
	fallback := handle.NoneField
	for ord := 0; ord < c.idx.Len(); ord++ {
		id, ok := c.idx.FindField(ord, ref)
		if !ok {
			continue
		}
		def := c.idx.FieldClassDef(ord, id)
		if def != handle.NoClassDef {
			return handle.NewField(ord, def, id), nil
		}
		if fallback.IsNone() {
			fallback = handle.NewField(ord, def, id)
		}
	}
	if fallback.IsNone() {
		return fallback, notFound("field %s is not referenced by any dex", ref)
	}
	return fallback, nil
}

// CanonicalMethod returns the handle emitted for method id of dex ord. A
// method whose class ord defines keeps that dex; a reference-only one takes
// the handle EncodeMethod assigns its reference, so a callee defined in
// another dex resolves to its definition.
func (c *Codec) CanonicalMethod(ord int, id uint32) handle.Method {
	def := c.idx.MethodClassDef(ord, id)
	if def != handle.NoClassDef {
		return handle.NewMethod(ord, def, id)
	}
	h, err := c.EncodeMethod(c.idx.MethodRef(ord, id))
	if err != nil {
		return handle.NewMethod(ord, def, id)
	}
	return h
}

// CanonicalField is the field counterpart of CanonicalMethod.
func (c *Codec) CanonicalField(ord int, id uint32) handle.Field {
	def := c.idx.FieldClassDef(ord, id)
	if def != handle.NoClassDef {
		return handle.NewField(ord, def, id)
	}
	h, err := c.EncodeField(c.idx.FieldRef(ord, id))
	if err != nil {
		return handle.NewField(ord, def, id)
	}
	return h
}

// EncodeClass returns the handle of the first dex defining the type, falling
// back to the first dex that references it.
func (c *Codec) EncodeClass(ref handle.ClassRef) (handle.Class, error) {
	fallback := handle.NoneClass
	for ord := 0; ord < c.idx.Len(); ord++ {
		typ, ok := c.idx.Image(ord).FindType(ref.Descriptor)
		if !ok {
			continue
		}
		def := c.idx.TypeClassDef(ord, typ)
		if def != handle.NoClassDef {
			return handle.NewClass(ord, def, typ), nil
		}
		if fallback.IsNone() {
			fallback = handle.NewClass(ord, def, typ)
		}
	}
	if fallback.IsNone() {
		return fallback, notFound("class %s is not referenced by any dex", ref)
	}
	return fallback, nil
}

// DecodeMethod returns the reference a handle stands for. The ordinal, class
// def and member must all agree with the current image set.
func (c *Codec) DecodeMethod(h handle.Method) (handle.MethodRef, error) {
	ord, id := h.Dex(), h.Member()
	if h.IsNone() || !c.idx.Valid(ord) || int64(id) >= int64(c.idx.Image(ord).MethodCount()) {
		return handle.MethodRef{}, notFound("%s does not resolve", h)
	}
	if c.idx.MethodClassDef(ord, id) != h.ClassDef() {
		return handle.MethodRef{}, notFound("%s: class def does not declare the method", h)
	}
	return c.idx.MethodRef(ord, id), nil
}

// DecodeField is the field counterpart of DecodeMethod.
func (c *Codec) DecodeField(h handle.Field) (handle.FieldRef, error) {
	ord, id := h.Dex(), h.Member()
	if h.IsNone() || !c.idx.Valid(ord) || int64(id) >= int64(c.idx.Image(ord).FieldCount()) {
		return handle.FieldRef{}, notFound("%s does not resolve", h)
	}
	if c.idx.FieldClassDef(ord, id) != h.ClassDef() {
		return handle.FieldRef{}, notFound("%s: class def does not declare the field", h)
	}
	return c.idx.FieldRef(ord, id), nil
}

// DecodeClass is the class counterpart of DecodeMethod.
func (c *Codec) DecodeClass(h handle.Class) (handle.ClassRef, error) {
	ord, typ := h.Dex(), h.Member()
	if h.IsNone() || !c.idx.Valid(ord) || int64(typ) >= int64(c.idx.Image(ord).TypeCount()) {
		return handle.ClassRef{}, notFound("%s does not resolve", h)
	}
	if c.idx.TypeClassDef(ord, typ) != h.ClassDef() {
		return handle.ClassRef{}, notFound("%s: class def does not match the type", h)
	}
	return handle.ClassRef{Descriptor: c.idx.Image(ord).TypeDescriptor(typ)}, nil
}

// ClassDescriptor adapts DecodeClass to match.ClassResolver.
func (c *Codec) ClassDescriptor(h handle.Class) (string, bool) {
	ref, err := c.DecodeClass(h)
	if err != nil {
		return "", false
	}
	return ref.Descriptor, true
}

// CreateClassIndex encodes a class given as a descriptor or a Java name.
func (c *Codec) CreateClassIndex(name string) (handle.Class, error) {
	ref, err := handle.ParseClassRef(name)
	if err != nil {
		return handle.NoneClass, errors.Wrap(errors.CodeInvalidInput, "bad class name", err)
	}
	return c.EncodeClass(ref)
}

// CreateMethodIndex finds a method by owner, name and parameter types,
// ignoring the return type. Defining dexes win over referencing ones and the
// lowest method id wins within a dex.
func (c *Codec) CreateMethodIndex(class, name string, params []string) (handle.Method, error) {
	class = dex.Descriptor(class)
	want := make([]string, len(params))
	for i, p := range params {
		want[i] = dex.Descriptor(p)
	}
	fallback := handle.NoneMethod
	for ord := 0; ord < c.idx.Len(); ord++ {
		img := c.idx.Image(ord)
		typ, ok := img.FindType(class)
		if !ok {
			continue
		}
		for id := uint32(0); id < uint32(img.MethodCount()); id++ {
			mid := img.Method(id)
			if uint32(mid.Class) != typ || img.MethodName(id) != name || !slices.Equal(img.MethodParamDescriptors(id), want) {
				continue
			}
			def := c.idx.MethodClassDef(ord, id)
			if def != handle.NoClassDef {
				return handle.NewMethod(ord, def, id), nil
			}
			if fallback.IsNone() {
				fallback = handle.NewMethod(ord, def, id)
			}
			break
		}
	}
	if fallback.IsNone() {
		return fallback, notFound("method %s->%s%v is not referenced by any dex", class, name, want)
	}
	return fallback, nil
}

// CreateFieldIndex finds a field by owner and name, ignoring its type.
func (c *Codec) CreateFieldIndex(class, name string) (handle.Field, error) {
	class = dex.Descriptor(class)
	fallback := handle.NoneField
	for ord := 0; ord < c.idx.Len(); ord++ {
		img := c.idx.Image(ord)
		typ, ok := img.FindType(class)
		if !ok {
			continue
		}
		for id := uint32(0); id < uint32(img.FieldCount()); id++ {
			if uint32(img.Field(id).Class) != typ || img.FieldName(id) != name {
				continue
			}
			def := c.idx.FieldClassDef(ord, id)
			if def != handle.NoClassDef {
				return handle.NewField(ord, def, id), nil
			}
			if fallback.IsNone() {
				fallback = handle.NewField(ord, def, id)
			}
			break
		}
	}
	if fallback.IsNone() {
		return fallback, notFound("field %s->%s is not referenced by any dex", class, name)
	}
	return fallback, nil
}

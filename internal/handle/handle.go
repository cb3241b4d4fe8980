// Package handle packs dex coordinates into opaque 64-bit values.
//
// Layout, most significant bit first:
//
//	[63..52] dex ordinal   (12 bits)
//	[51..32] class-def idx (20 bits, NoClassDef when not defined in that dex)
//	[31..0]  member idx    (method-id, field-id or type-id)
//
// The all-ones value is None, the wildcard and "no index" sentinel.
package handle

import "fmt"

const (
	ordinalBits  = 12
	classDefBits = 20

	// MaxOrdinal is the largest encodable dex ordinal.
	MaxOrdinal = 1<<ordinalBits - 1
	// NoClassDef marks a member referenced but not defined in its dex.
	NoClassDef = 1<<classDefBits - 1
	// MaxClassDef is the largest encodable class-def index.
	MaxClassDef = NoClassDef - 1

	None = ^uint64(0)
)

// Method identifies a method_id in one dex.
type Method uint64

// Field identifies a field_id in one dex.
type Field uint64

// Class identifies a type_id in one dex.
type Class uint64

// Wildcards for queries.
const (
	NoneMethod = Method(None)
	NoneField  = Field(None)
	NoneClass  = Class(None)
)

func pack(ordinal int, classDef, member uint32) uint64 {
	if ordinal < 0 || ordinal > MaxOrdinal {
		panic(fmt.Sprintf("handle: dex ordinal %d out of range", ordinal))
	}
	if classDef > NoClassDef {
		panic(fmt.Sprintf("handle: class-def index %d out of range", classDef))
	}
	return uint64(ordinal)<<(64-ordinalBits) | uint64(classDef)<<32 | uint64(member)
}

func ordinalOf(v uint64) int { return int(v >> (64 - ordinalBits)) }
func classDefOf(v uint64) uint32 { return uint32(v>>32) & NoClassDef }
func memberOf(v uint64) uint32 { return uint32(v) }

// NewMethod packs a method handle. It panics when ordinal or classDef do not fit.
func NewMethod(ordinal int, classDef, methodID uint32) Method {
	return Method(pack(ordinal, classDef, methodID))
}

func (h Method) Dex() int { return ordinalOf(uint64(h)) }
func (h Method) ClassDef() uint32 { return classDefOf(uint64(h)) }
func (h Method) Member() uint32 { return memberOf(uint64(h)) }
func (h Method) IsNone() bool { return uint64(h) == None }
func (h Method) Defined() bool { return !h.IsNone() && h.ClassDef() != NoClassDef }
func (h Method) String() string { return format("method", uint64(h)) }
func (h Method) Int64() int64 { return int64(h) }
func MethodFromInt64(v int64) Method { return Method(uint64(v)) }

// NewField packs a field handle. It panics when ordinal or classDef do not fit.
func NewField(ordinal int, classDef, fieldID uint32) Field {
	return Field(pack(ordinal, classDef, fieldID))
}

func (h Field) Dex() int { return ordinalOf(uint64(h)) }
func (h Field) ClassDef() uint32 { return classDefOf(uint64(h)) }
func (h Field) Member() uint32 { return memberOf(uint64(h)) }
func (h Field) IsNone() bool { return uint64(h) == None }
func (h Field) Defined() bool { return !h.IsNone() && h.ClassDef() != NoClassDef }
func (h Field) String() string { return format("field", uint64(h)) }
func (h Field) Int64() int64 { return int64(h) }
func FieldFromInt64(v int64) Field { return Field(uint64(v)) }

// NewClass packs a class handle. It panics when ordinal or classDef do not fit.
func NewClass(ordinal int, classDef, typeID uint32) Class {
	return Class(pack(ordinal, classDef, typeID))
}

func (h Class) Dex() int { return ordinalOf(uint64(h)) }
func (h Class) ClassDef() uint32 { return classDefOf(uint64(h)) }
func (h Class) Member() uint32 { return memberOf(uint64(h)) }
func (h Class) IsNone() bool { return uint64(h) == None }
func (h Class) Defined() bool { return !h.IsNone() && h.ClassDef() != NoClassDef }
func (h Class) String() string { return format("class", uint64(h)) }
func (h Class) Int64() int64 { return int64(h) }
func ClassFromInt64(v int64) Class { return Class(uint64(v)) }

func format(kind string, v uint64) string {
	if v == None {
		return kind + "(none)"
	}
	cd := classDefOf(v)
	if cd == NoClassDef {
		return fmt.Sprintf("%s(dex=%d, id=%d)", kind, ordinalOf(v), memberOf(v))
	}
	return fmt.Sprintf("%s(dex=%d, def=%d, id=%d)", kind, ordinalOf(v), cd, memberOf(v))
}

// Package dex parses Android dex containers into immutable in-memory images.
//
// An Image holds the string, type, proto, field, method and class-def tables
// of one container together with decoded class data. Code items are decoded on
// demand through Image.Code so that broken code offsets surface at index time
// rather than at load time.
package dex

// Header and table layout constants.
const (
	HeaderSize            = 0x70
	EndianConstant        = 0x12345678
	ReverseEndianConstant = 0x78563412

	// NoIndex marks an absent string, type or class-def reference.
	NoIndex = 0xffffffff

	stringIDItemSize = 4
	typeIDItemSize   = 4
	protoIDItemSize  = 12
	fieldIDItemSize  = 8
	methodIDItemSize = 8
	classDefItemSize = 32
	codeItemHeader   = 16

	minVersion = 35
	maxVersion = 41
)

// Access flags used by the index and the test builder.
const (
	AccPublic       = 0x1
	AccPrivate      = 0x2
	AccProtected    = 0x4
	AccStatic       = 0x8
	AccFinal        = 0x10
	AccSynchronized = 0x20
	AccNative       = 0x100
	AccInterface    = 0x200
	AccAbstract     = 0x400
	AccConstructor  = 0x10000
)

// Header mirrors header_item.
type Header struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// Version returns the numeric format version encoded in the magic, e.g. 35.
func (h *Header) Version() int {
	return int(h.Magic[4]-'0')*100 + int(h.Magic[5]-'0')*10 + int(h.Magic[6]-'0')
}

// ProtoID is a proto_id_item with its parameter type list resolved.
type ProtoID struct {
	Shorty        uint32
	ReturnType    uint32
	ParametersOff uint32
	Params        []uint16
}

// FieldID mirrors field_id_item.
type FieldID struct {
	Class uint16
	Type  uint16
	Name  uint32
}

// MethodID mirrors method_id_item.
type MethodID struct {
	Class uint16
	Proto uint16
	Name  uint32
}

// ClassDef mirrors class_def_item plus its decoded class data.
type ClassDef struct {
	Class           uint32
	AccessFlags     uint32
	Superclass      uint32
	InterfacesOff   uint32
	SourceFile      uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32

	// Data is nil for marker classes without class_data.
	Data *ClassData
}

// EncodedField is one entry of a class_data_item field list with the delta resolved.
type EncodedField struct {
	Field       uint32
	AccessFlags uint32
}

// EncodedMethod is one entry of a class_data_item method list with the delta resolved.
type EncodedMethod struct {
	Method      uint32
	AccessFlags uint32
	// CodeOff is zero for abstract and native methods.
	CodeOff uint32
}

// HasCode reports whether the method carries a code item.
func (m EncodedMethod) HasCode() bool {
	return m.CodeOff != 0
}

// ClassData mirrors class_data_item.
type ClassData struct {
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// Fields returns static then instance fields.
func (c *ClassData) Fields() []EncodedField {
	if c == nil {
		return nil
	}
	out := make([]EncodedField, 0, len(c.StaticFields)+len(c.InstanceFields))
	out = append(out, c.StaticFields...)
	return append(out, c.InstanceFields...)
}

// Methods returns direct then virtual methods.
func (c *ClassData) Methods() []EncodedMethod {
	if c == nil {
		return nil
	}
	out := make([]EncodedMethod, 0, len(c.DirectMethods)+len(c.VirtualMethods))
	out = append(out, c.DirectMethods...)
	return append(out, c.VirtualMethods...)
}

// CodeItem is a decoded code_item. Tries and debug info are not retained.
type CodeItem struct {
	Registers uint16
	Ins       uint16
	Outs      uint16
	Tries     uint16
	Insns     []uint16
}

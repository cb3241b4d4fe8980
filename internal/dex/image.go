package dex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sort"
	"strings"

	"github.com/dexhelper/pkg/errors"
)

// ParseOptions configures Parse.
type ParseOptions struct {
	// Ordinal is the discovery position of the container.
	Ordinal int
	// Name identifies the container in errors and logs.
	Name string
	// SkipChecksum disables Adler-32 verification for pre-patched images.
	SkipChecksum bool
}

// Image is an immutable parsed dex container.
type Image struct {
	Ordinal int
	Name    string
	Header  Header

	data []byte

	strings   []string
	types     []uint32
	protos    []ProtoID
	fields    []FieldID
	methods   []MethodID
	classDefs []ClassDef

	typeByDesc     map[string]uint32
	classDefByType map[uint32]uint32
}

// Parse validates data and builds an Image. Structural violations are
// reported as errors.ErrMalformedImage.
func Parse(data []byte, opts ParseOptions) (*Image, error) {
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("dex#%d", opts.Ordinal)
	}
	malformed := func(format string, args ...interface{}) error {
		return errors.MalformedImage(name, format, args...)
	}

	if len(data) < HeaderSize {
		return nil, malformed("container of %d bytes is smaller than the header", len(data))
	}

	img := &Image{Ordinal: opts.Ordinal, Name: name}
	if err := img.readHeader(data); err != nil {
		return nil, malformed("%v", err)
	}
	h := &img.Header

	if !bytes.Equal(h.Magic[:4], []byte("dex\n")) || h.Magic[7] != 0 {
		return nil, malformed("bad magic %q", h.Magic[:])
	}
	for _, c := range h.Magic[4:7] {
		if c < '0' || c > '9' {
			return nil, malformed("bad version in magic %q", h.Magic[:])
		}
	}
	if v := h.Version(); v < minVersion || v > maxVersion {
		return nil, malformed("unsupported version %03d", v)
	}
	switch h.EndianTag {
	case EndianConstant:
	case ReverseEndianConstant:
		return nil, malformed("reverse-endian containers are not supported")
	default:
		return nil, malformed("bad endian tag 0x%08x", h.EndianTag)
	}
	if h.HeaderSize != HeaderSize {
		return nil, malformed("header_size 0x%x", h.HeaderSize)
	}
	if h.FileSize < HeaderSize || int(h.FileSize) > len(data) {
		return nil, malformed("file_size 0x%x does not fit container of 0x%x bytes", h.FileSize, len(data))
	}
	img.data = data[:h.FileSize]

	if !opts.SkipChecksum {
		if sum := adler32.Checksum(img.data[12:]); sum != h.Checksum {
			return nil, malformed("checksum 0x%08x, computed 0x%08x", h.Checksum, sum)
		}
	}

	tables := []struct {
		name     string
		size     uint32
		off      uint32
		itemSize uint32
	}{
		{"string_ids", h.StringIDsSize, h.StringIDsOff, stringIDItemSize},
		{"type_ids", h.TypeIDsSize, h.TypeIDsOff, typeIDItemSize},
		{"proto_ids", h.ProtoIDsSize, h.ProtoIDsOff, protoIDItemSize},
		{"field_ids", h.FieldIDsSize, h.FieldIDsOff, fieldIDItemSize},
		{"method_ids", h.MethodIDsSize, h.MethodIDsOff, methodIDItemSize},
		{"class_defs", h.ClassDefsSize, h.ClassDefsOff, classDefItemSize},
	}
	for _, t := range tables {
		if t.size == 0 {
			continue
		}
		end := uint64(t.off) + uint64(t.size)*uint64(t.itemSize)
		if t.off < HeaderSize || end > uint64(h.FileSize) {
			return nil, malformed("%s table [0x%x, 0x%x) outside container", t.name, t.off, end)
		}
	}

	steps := []func() error{img.readStrings, img.readTypes, img.readProtos, img.readFields, img.readMethods, img.readClassDefs}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, malformed("%v", err)
		}
	}
	return img, nil
}

func (img *Image) readHeader(data []byte) error {
	return binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &img.Header)
}

func (img *Image) readStrings() error {
	h := &img.Header
	r := NewReader(img.data)
	img.strings = make([]string, h.StringIDsSize)
	for i := range img.strings {
		if err := r.Seek(int(h.StringIDsOff) + i*stringIDItemSize); err != nil {
			return err
		}
		off, err := r.ReadUint32()
		if err != nil {
			return err
		}
		if err := r.Seek(int(off)); err != nil || off < HeaderSize {
			return fmt.Errorf("string_data_off 0x%x of string %d outside container", off, i)
		}
		if _, err := r.ReadULEB128(); err != nil {
			return fmt.Errorf("string %d: %w", i, err)
		}
		raw, err := r.ReadCString()
		if err != nil {
			return fmt.Errorf("string %d: %w", i, err)
		}
		if img.strings[i], err = DecodeMUTF8(raw); err != nil {
			return fmt.Errorf("string %d: %w", i, err)
		}
	}
	return nil
}

func (img *Image) readTypes() error {
	h := &img.Header
	r := NewReader(img.data)
	img.types = make([]uint32, h.TypeIDsSize)
	img.typeByDesc = make(map[string]uint32, h.TypeIDsSize)
	if err := r.Seek(int(h.TypeIDsOff)); err != nil {
		return err
	}
	for i := range img.types {
		idx, err := r.ReadUint32()
		if err != nil {
			return err
		}
		if idx >= h.StringIDsSize {
			return fmt.Errorf("type %d descriptor_idx %d out of range", i, idx)
		}
		img.types[i] = idx
		if _, dup := img.typeByDesc[img.strings[idx]]; !dup {
			img.typeByDesc[img.strings[idx]] = uint32(i)
		}
	}
	return nil
}

func (img *Image) readProtos() error {
	h := &img.Header
	r := NewReader(img.data)
	img.protos = make([]ProtoID, h.ProtoIDsSize)
	for i := range img.protos {
		if err := r.Seek(int(h.ProtoIDsOff) + i*protoIDItemSize); err != nil {
			return err
		}
		p := &img.protos[i]
		var err error
		if p.Shorty, err = r.ReadUint32(); err != nil {
			return err
		}
		if p.ReturnType, err = r.ReadUint32(); err != nil {
			return err
		}
		if p.ParametersOff, err = r.ReadUint32(); err != nil {
			return err
		}
		if p.Shorty >= h.StringIDsSize || p.ReturnType >= h.TypeIDsSize {
			return fmt.Errorf("proto %d references out of range", i)
		}
		if p.ParametersOff == 0 {
			continue
		}
		if err := r.Seek(int(p.ParametersOff)); err != nil {
			return fmt.Errorf("proto %d parameters_off 0x%x outside container", i, p.ParametersOff)
		}
		n, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("proto %d parameters: %w", i, err)
		}
		if uint64(n)*2 > uint64(r.Len()-r.Pos()) {
			return fmt.Errorf("proto %d type_list of %d entries overruns container", i, n)
		}
		p.Params = make([]uint16, n)
		for j := range p.Params {
			t, _ := r.ReadUint16()
			if uint32(t) >= h.TypeIDsSize {
				return fmt.Errorf("proto %d parameter %d type %d out of range", i, j, t)
			}
			p.Params[j] = t
		}
	}
	return nil
}

func (img *Image) readFields() error {
	h := &img.Header
	r := NewReader(img.data)
	img.fields = make([]FieldID, h.FieldIDsSize)
	if err := r.Seek(int(h.FieldIDsOff)); err != nil {
		return err
	}
	for i := range img.fields {
		f := &img.fields[i]
		f.Class, _ = r.ReadUint16()
		f.Type, _ = r.ReadUint16()
		f.Name, _ = r.ReadUint32()
		if uint32(f.Class) >= h.TypeIDsSize || uint32(f.Type) >= h.TypeIDsSize || f.Name >= h.StringIDsSize {
			return fmt.Errorf("field %d references out of range", i)
		}
	}
	return nil
}

func (img *Image) readMethods() error {
	h := &img.Header
	r := NewReader(img.data)
	img.methods = make([]MethodID, h.MethodIDsSize)
	if err := r.Seek(int(h.MethodIDsOff)); err != nil {
		return err
	}
	for i := range img.methods {
		m := &img.methods[i]
		m.Class, _ = r.ReadUint16()
		m.Proto, _ = r.ReadUint16()
		m.Name, _ = r.ReadUint32()
		if uint32(m.Class) >= h.TypeIDsSize || uint32(m.Proto) >= h.ProtoIDsSize || m.Name >= h.StringIDsSize {
			return fmt.Errorf("method %d references out of range", i)
		}
	}
	return nil
}

func (img *Image) readClassDefs() error {
	h := &img.Header
	r := NewReader(img.data)
	img.classDefs = make([]ClassDef, h.ClassDefsSize)
	img.classDefByType = make(map[uint32]uint32, h.ClassDefsSize)
	if err := r.Seek(int(h.ClassDefsOff)); err != nil {
		return err
	}
	for i := range img.classDefs {
		c := &img.classDefs[i]
		for _, dst := range []*uint32{&c.Class, &c.AccessFlags, &c.Superclass, &c.InterfacesOff,
			&c.SourceFile, &c.AnnotationsOff, &c.ClassDataOff, &c.StaticValuesOff} {
			*dst, _ = r.ReadUint32()
		}
		if c.Class >= h.TypeIDsSize {
			return fmt.Errorf("class_def %d class_idx %d out of range", i, c.Class)
		}
		if _, dup := img.classDefByType[c.Class]; !dup {
			img.classDefByType[c.Class] = uint32(i)
		}
	}
	for i := range img.classDefs {
		c := &img.classDefs[i]
		if c.ClassDataOff == 0 {
			continue
		}
		data, err := img.readClassData(c.ClassDataOff)
		if err != nil {
			return fmt.Errorf("class_def %d (%s): %w", i, img.TypeDescriptor(c.Class), err)
		}
		c.Data = data
	}
	return nil
}

func (img *Image) readClassData(off uint32) (*ClassData, error) {
	r := NewReader(img.data)
	if off < HeaderSize {
		return nil, fmt.Errorf("class_data_off 0x%x inside header", off)
	}
	if err := r.Seek(int(off)); err != nil {
		return nil, fmt.Errorf("class_data_off 0x%x outside container", off)
	}
	var counts [4]uint32
	for i := range counts {
		v, err := r.ReadULEB128()
		if err != nil {
			return nil, err
		}
		counts[i] = v
	}
	// every encoded entry takes at least two bytes
	remaining := uint64(r.Len() - r.Pos())
	if (uint64(counts[0])+uint64(counts[1]))*2+(uint64(counts[2])+uint64(counts[3]))*3 > remaining {
		return nil, fmt.Errorf("class_data counts %v overrun container", counts)
	}

	readFields := func(n uint32) ([]EncodedField, error) {
		out := make([]EncodedField, n)
		var idx uint32
		for i := range out {
			diff, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			flags, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			idx += diff
			if idx >= img.Header.FieldIDsSize {
				return nil, fmt.Errorf("encoded field index %d out of range", idx)
			}
			out[i] = EncodedField{Field: idx, AccessFlags: flags}
		}
		return out, nil
	}
	readMethods := func(n uint32) ([]EncodedMethod, error) {
		out := make([]EncodedMethod, n)
		var idx uint32
		for i := range out {
			diff, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			flags, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			code, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			idx += diff
			if idx >= img.Header.MethodIDsSize {
				return nil, fmt.Errorf("encoded method index %d out of range", idx)
			}
			out[i] = EncodedMethod{Method: idx, AccessFlags: flags, CodeOff: code}
		}
		return out, nil
	}

	cd := &ClassData{}
	var err error
	if cd.StaticFields, err = readFields(counts[0]); err != nil {
		return nil, err
	}
	if cd.InstanceFields, err = readFields(counts[1]); err != nil {
		return nil, err
	}
	if cd.DirectMethods, err = readMethods(counts[2]); err != nil {
		return nil, err
	}
	if cd.VirtualMethods, err = readMethods(counts[3]); err != nil {
		return nil, err
	}
	return cd, nil
}

// Code decodes the code_item at off. Offsets or lengths running outside the
// container are reported as errors.ErrIndexExhausted.
func (img *Image) Code(off uint32) (*CodeItem, error) {
	if off < HeaderSize || uint64(off)+codeItemHeader > uint64(len(img.data)) {
		return nil, errors.IndexExhausted(img.Name, "code_off 0x%x outside container of 0x%x bytes", off, len(img.data))
	}
	r := NewReader(img.data)
	_ = r.Seek(int(off))
	ci := &CodeItem{}
	ci.Registers, _ = r.ReadUint16()
	ci.Ins, _ = r.ReadUint16()
	ci.Outs, _ = r.ReadUint16()
	ci.Tries, _ = r.ReadUint16()
	_, _ = r.ReadUint32() // debug_info_off
	size, _ := r.ReadUint32()
	if uint64(r.Pos())+uint64(size)*2 > uint64(len(img.data)) {
		return nil, errors.IndexExhausted(img.Name, "code_item at 0x%x: %d code units overrun container", off, size)
	}
	ci.Insns = make([]uint16, size)
	for i := range ci.Insns {
		ci.Insns[i], _ = r.ReadUint16()
	}
	return ci, nil
}

// Data returns the raw container bytes.
func (img *Image) Data() []byte {
	return img.data
}

// StringCount returns the size of the string pool.
func (img *Image) StringCount() int {
	return len(img.strings)
}

// String returns string idx, or "" when out of range.
func (img *Image) String(idx uint32) string {
	if int(idx) >= len(img.strings) {
		return ""
	}
	return img.strings[idx]
}

// FindString locates s in the sorted string pool.
func (img *Image) FindString(s string) (uint32, bool) {
	i := sort.Search(len(img.strings), func(i int) bool {
		return CompareStrings(img.strings[i], s) >= 0
	})
	if i < len(img.strings) && img.strings[i] == s {
		return uint32(i), true
	}
	return NoIndex, false
}

// StringRange returns the half-open range of string ids that start with prefix.
func (img *Image) StringRange(prefix string) (uint32, uint32) {
	lo := sort.Search(len(img.strings), func(i int) bool {
		return CompareStrings(img.strings[i], prefix) >= 0
	})
	n := sort.Search(len(img.strings)-lo, func(i int) bool {
		return !strings.HasPrefix(img.strings[lo+i], prefix)
	})
	return uint32(lo), uint32(lo + n)
}

// TypeCount returns the size of the type table.
func (img *Image) TypeCount() int {
	return len(img.types)
}

// TypeDescriptor returns the descriptor of type idx, or "" when out of range.
func (img *Image) TypeDescriptor(idx uint32) string {
	if int(idx) >= len(img.types) {
		return ""
	}
	return img.strings[img.types[idx]]
}

// FindType returns the type id with descriptor desc.
func (img *Image) FindType(desc string) (uint32, bool) {
	idx, ok := img.typeByDesc[desc]
	if !ok {
		return NoIndex, false
	}
	return idx, true
}

// ClassDefOf returns the class-def index defining type idx.
func (img *Image) ClassDefOf(typeIdx uint32) (uint32, bool) {
	idx, ok := img.classDefByType[typeIdx]
	if !ok {
		return NoIndex, false
	}
	return idx, true
}

// ClassDefs returns the class-def table in declaration order.
func (img *Image) ClassDefs() []ClassDef {
	return img.classDefs
}

// ClassDef returns class def idx.
func (img *Image) ClassDef(idx uint32) (*ClassDef, bool) {
	if int(idx) >= len(img.classDefs) {
		return nil, false
	}
	return &img.classDefs[idx], true
}

// ProtoCount returns the size of the proto table.
func (img *Image) ProtoCount() int {
	return len(img.protos)
}

// Proto returns proto idx.
func (img *Image) Proto(idx uint32) *ProtoID {
	return &img.protos[idx]
}

// MethodCount returns the size of the method-id table.
func (img *Image) MethodCount() int {
	return len(img.methods)
}

// Method returns method id idx.
func (img *Image) Method(idx uint32) MethodID {
	return img.methods[idx]
}

// MethodProto returns the proto of method idx.
func (img *Image) MethodProto(idx uint32) *ProtoID {
	return &img.protos[img.methods[idx].Proto]
}

// MethodShorty returns the full shorty of method idx, return type first.
func (img *Image) MethodShorty(idx uint32) string {
	return img.strings[img.MethodProto(idx).Shorty]
}

// MethodName returns the name of method idx.
func (img *Image) MethodName(idx uint32) string {
	return img.strings[img.methods[idx].Name]
}

// MethodParamDescriptors returns the parameter descriptors of method idx.
func (img *Image) MethodParamDescriptors(idx uint32) []string {
	params := img.MethodProto(idx).Params
	out := make([]string, len(params))
	for i, t := range params {
		out[i] = img.TypeDescriptor(uint32(t))
	}
	return out
}

// FieldCount returns the size of the field-id table.
func (img *Image) FieldCount() int {
	return len(img.fields)
}

// Field returns field id idx.
func (img *Image) Field(idx uint32) FieldID {
	return img.fields[idx]
}

// FieldName returns the name of field idx.
func (img *Image) FieldName(idx uint32) string {
	return img.strings[img.fields[idx].Name]
}

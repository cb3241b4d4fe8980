// Package dexbuild writes small but well-formed dex containers. It backs the
// package tests and the fixture command.
package dexbuild

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sort"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/handle"
)

const objectClass = "Ljava/lang/Object;"

// Builder collects classes and writes them as one dex container.
type Builder struct {
	version int
	classes []*Class
	strings []string
	refs    []handle.MethodRef
}

// New creates an empty builder producing version 035 containers.
func New() *Builder {
	return &Builder{version: 35}
}

// Version sets the format version written to the magic.
func (b *Builder) Version(v int) *Builder {
	b.version = v
	return b
}

// Class defines a class extending java.lang.Object.
func (b *Builder) Class(desc string) *Class {
	c := &Class{desc: desc, super: objectClass, flags: dex.AccPublic}
	if desc == objectClass {
		c.super = ""
	}
	b.classes = append(b.classes, c)
	return c
}

// String adds s to the string pool without referencing it from code.
func (b *Builder) String(s string) *Builder {
	b.strings = append(b.strings, s)
	return b
}

// Reference adds a method_id for ref without defining or invoking it.
func (b *Builder) Reference(ref handle.MethodRef) *Builder {
	b.refs = append(b.refs, ref)
	return b
}

// Class is a class definition under construction.
type Class struct {
	desc    string
	super   string
	flags   uint32
	fields  []*fieldDef
	methods []*Method
}

type fieldDef struct {
	ref   handle.FieldRef
	flags uint32
}

// Extends sets the superclass.
func (c *Class) Extends(super string) *Class {
	c.super = super
	return c
}

// Flags sets the class access flags.
func (c *Class) Flags(flags uint32) *Class {
	c.flags = flags
	return c
}

// Field declares a field; dex.AccStatic places it in the static list.
func (c *Class) Field(name, typ string, flags uint32) handle.FieldRef {
	ref := handle.FieldRef{Class: c.desc, Name: name, Type: typ}
	c.fields = append(c.fields, &fieldDef{ref: ref, flags: flags})
	return ref
}

// Method declares a method. Without a call to Method.Code it is body-less.
func (c *Class) Method(name string, params []string, ret string, flags uint32) *Method {
	m := &Method{
		ref:   handle.MethodRef{Class: c.desc, Name: name, Params: params, Return: ret},
		flags: flags,
	}
	c.methods = append(c.methods, m)
	return m
}

// Method is a method definition under construction.
type Method struct {
	ref      handle.MethodRef
	flags    uint32
	code     *Code
	forceOff *uint32
}

// Ref returns the descriptor reference of the method.
func (m *Method) Ref() handle.MethodRef {
	return m.ref
}

// Code attaches a body and returns it for chaining instructions.
func (m *Method) Code() *Code {
	if m.code == nil {
		m.code = &Code{}
	}
	return m.code
}

// ForceCodeOff writes off as the code offset regardless of the body.
func (m *Method) ForceCodeOff(off uint32) *Method {
	m.forceOff = &off
	return m
}

func (m *Method) direct() bool {
	return m.flags&(dex.AccStatic|dex.AccPrivate|dex.AccConstructor) != 0
}

func errTooLarge(what string, v uint32) error {
	return fmt.Errorf("dexbuild: %s %d does not fit", what, v)
}

// MustBuild is Build that panics on error.
func (b *Builder) MustBuild() []byte {
	data, err := b.Build()
	if err != nil {
		panic(err)
	}
	return data
}

// Build writes the container with sorted pools, a map list, and valid
// signature and checksum.
func (b *Builder) Build() ([]byte, error) {
	p := newPools()
	if err := p.collect(b); err != nil {
		return nil, err
	}
	p.sort()

	w := &writer{}
	w.buf = make([]byte, dex.HeaderSize)

	stringIDsOff := w.reserve(4 * len(p.strings))
	typeIDsOff := w.reserve(4 * len(p.types))
	protoIDsOff := w.reserve(12 * len(p.protos))
	fieldIDsOff := w.reserve(8 * len(p.fields))
	methodIDsOff := w.reserve(8 * len(p.methods))
	classDefsOff := w.reserve(32 * len(b.classes))
	dataOff := w.len()

	var sections []mapItem

	// type lists
	paramOffs := make([]uint32, len(p.protos))
	typeListStart, typeLists := 0, 0
	for i, pr := range p.protos {
		if len(pr.params) == 0 {
			continue
		}
		w.align(4)
		if typeLists == 0 {
			typeListStart = w.len()
		}
		typeLists++
		paramOffs[i] = uint32(w.len())
		w.u32(uint32(len(pr.params)))
		for _, t := range pr.params {
			w.u16(uint16(p.typeIdx[t]))
		}
	}
	if typeLists > 0 {
		sections = append(sections, mapItem{0x1001, typeLists, typeListStart})
	}

	// code items
	codeOffs := make(map[*Method]uint32)
	codeStart, codeItems := 0, 0
	for _, c := range b.classes {
		for _, m := range c.methods {
			if m.code == nil {
				continue
			}
			insns, err := m.code.assemble(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.ref, err)
			}
			w.align(4)
			if codeItems == 0 {
				codeStart = w.len()
			}
			codeItems++
			codeOffs[m] = uint32(w.len())
			ins := insWords(m)
			regs := m.code.registers
			if regs == 0 {
				regs = ins + 8
			}
			w.u16(regs)
			w.u16(ins)
			w.u16(5) // outs
			w.u16(0) // tries
			w.u32(0) // debug info
			w.u32(uint32(len(insns)))
			for _, u := range insns {
				w.u16(u)
			}
		}
	}
	if codeItems > 0 {
		sections = append(sections, mapItem{0x2001, codeItems, codeStart})
	}

	// string data
	stringOffs := make([]uint32, len(p.strings))
	stringStart := w.len()
	for i, s := range p.strings {
		stringOffs[i] = uint32(w.len())
		raw, units := dex.EncodeMUTF8(s)
		w.uleb(uint32(units))
		w.bytes(raw)
		w.bytes([]byte{0})
	}
	if len(p.strings) > 0 {
		sections = append(sections, mapItem{0x2002, len(p.strings), stringStart})
	}

	// class data
	classDataOffs := make([]uint32, len(b.classes))
	classDataStart, classData := 0, 0
	for i, c := range b.classes {
		if len(c.fields) == 0 && len(c.methods) == 0 {
			continue
		}
		if classData == 0 {
			classDataStart = w.len()
		}
		classData++
		classDataOffs[i] = uint32(w.len())
		p.writeClassData(w, c, codeOffs)
	}
	if classData > 0 {
		sections = append(sections, mapItem{0x2000, classData, classDataStart})
	}

	w.align(4)
	mapOff := w.len()
	sections = append(sections, mapItem{0x1000, 1, mapOff})
	head := []mapItem{
		{0x0000, 1, 0},
		{0x0001, len(p.strings), stringIDsOff},
		{0x0002, len(p.types), typeIDsOff},
		{0x0003, len(p.protos), protoIDsOff},
		{0x0004, len(p.fields), fieldIDsOff},
		{0x0005, len(p.methods), methodIDsOff},
		{0x0006, len(b.classes), classDefsOff},
	}
	var items []mapItem
	for _, it := range append(head, sections...) {
		if it.size > 0 {
			items = append(items, it)
		}
	}
	w.u32(uint32(len(items)))
	for _, it := range items {
		w.u16(it.kind)
		w.u16(0)
		w.u32(uint32(it.size))
		w.u32(uint32(it.off))
	}
	fileSize := w.len()

	// id tables
	for i, off := range stringOffs {
		w.put32(stringIDsOff+4*i, off)
	}
	for i, t := range p.types {
		w.put32(typeIDsOff+4*i, p.stringIdx[t])
	}
	for i, pr := range p.protos {
		at := protoIDsOff + 12*i
		w.put32(at, p.stringIdx[pr.shorty])
		w.put32(at+4, p.typeIdx[pr.ret])
		w.put32(at+8, paramOffs[i])
	}
	for i, f := range p.fields {
		at := fieldIDsOff + 8*i
		w.put16(at, uint16(p.typeIdx[f.Class]))
		w.put16(at+2, uint16(p.typeIdx[f.Type]))
		w.put32(at+4, p.stringIdx[f.Name])
	}
	for i, m := range p.methods {
		at := methodIDsOff + 8*i
		w.put16(at, uint16(p.typeIdx[m.Class]))
		w.put16(at+2, uint16(p.protoIdx[protoKey(m.Return, m.Params)]))
		w.put32(at+4, p.stringIdx[m.Name])
	}
	for i, c := range b.classes {
		at := classDefsOff + 32*i
		super := uint32(dex.NoIndex)
		if c.super != "" {
			super = p.typeIdx[c.super]
		}
		vals := []uint32{p.typeIdx[c.desc], c.flags, super, 0, dex.NoIndex, 0, classDataOffs[i], 0}
		for j, v := range vals {
			w.put32(at+4*j, v)
		}
	}

	// header
	copy(w.buf[0:8], fmt.Sprintf("dex\n%03d\x00", b.version))
	w.put32(32, uint32(fileSize))
	w.put32(36, dex.HeaderSize)
	w.put32(40, dex.EndianConstant)
	w.put32(52, uint32(mapOff))
	for i, v := range []int{
		len(p.strings), stringIDsOff, len(p.types), typeIDsOff, len(p.protos), protoIDsOff,
		len(p.fields), fieldIDsOff, len(p.methods), methodIDsOff, len(b.classes), classDefsOff,
		fileSize - dataOff, dataOff,
	} {
		w.put32(56+4*i, uint32(v))
	}

	sum := sha1.Sum(w.buf[32:])
	copy(w.buf[12:32], sum[:])
	w.put32(8, adler32.Checksum(w.buf[12:]))
	return w.buf, nil
}

// Checksum recomputes the Adler-32 checksum of a container in place, for
// tests that patch bytes after building.
func Checksum(data []byte) {
	binary.LittleEndian.PutUint32(data[8:], adler32.Checksum(data[12:]))
}

func insWords(m *Method) uint16 {
	var n uint16
	if m.flags&dex.AccStatic == 0 {
		n++
	}
	for _, p := range m.ref.Params {
		if p == "J" || p == "D" {
			n += 2
		} else {
			n++
		}
	}
	return n
}

type mapItem struct {
	kind uint16
	size int
	off  int
}

type proto struct {
	shorty string
	ret    string
	params []string
}

func protoKey(ret string, params []string) string {
	return dex.MethodDescriptor(params, ret)
}

// pools holds the sorted id tables and the index of each entry.
type pools struct {
	strings []string
	types   []string
	protos  []proto
	fields  []handle.FieldRef
	methods []handle.MethodRef

	stringIdx map[string]uint32
	typeIdx   map[string]uint32
	protoIdx  map[string]uint32
	fieldIdx  map[string]uint32
	methodIdx map[string]uint32
}

func newPools() *pools {
	return &pools{
		stringIdx: map[string]uint32{},
		typeIdx:   map[string]uint32{},
		protoIdx:  map[string]uint32{},
		fieldIdx:  map[string]uint32{},
		methodIdx: map[string]uint32{},
	}
}

func (p *pools) addString(s string) {
	if _, ok := p.stringIdx[s]; !ok {
		p.stringIdx[s] = 0
		p.strings = append(p.strings, s)
	}
}

func (p *pools) addType(desc string) error {
	if !dex.IsDescriptor(desc) {
		return fmt.Errorf("dexbuild: bad type descriptor %q", desc)
	}
	p.addString(desc)
	if _, ok := p.typeIdx[desc]; !ok {
		p.typeIdx[desc] = 0
		p.types = append(p.types, desc)
	}
	return nil
}

func (p *pools) addField(ref handle.FieldRef) error {
	for _, t := range []string{ref.Class, ref.Type} {
		if err := p.addType(t); err != nil {
			return err
		}
	}
	p.addString(ref.Name)
	if _, ok := p.fieldIdx[ref.String()]; !ok {
		p.fieldIdx[ref.String()] = 0
		p.fields = append(p.fields, ref)
	}
	return nil
}

func (p *pools) addMethod(ref handle.MethodRef) error {
	for _, t := range append([]string{ref.Class, ref.Return}, ref.Params...) {
		if err := p.addType(t); err != nil {
			return err
		}
	}
	p.addString(ref.Name)
	key := protoKey(ref.Return, ref.Params)
	if _, ok := p.protoIdx[key]; !ok {
		shorty := dex.Shorty(ref.Return, ref.Params)
		p.addString(shorty)
		p.protoIdx[key] = 0
		p.protos = append(p.protos, proto{shorty: shorty, ret: ref.Return, params: ref.Params})
	}
	if _, ok := p.methodIdx[ref.String()]; !ok {
		p.methodIdx[ref.String()] = 0
		p.methods = append(p.methods, ref)
	}
	return nil
}

func (p *pools) collect(b *Builder) error {
	for _, s := range b.strings {
		p.addString(s)
	}
	for _, ref := range b.refs {
		if err := p.addMethod(ref); err != nil {
			return err
		}
	}
	for _, c := range b.classes {
		if err := p.addType(c.desc); err != nil {
			return err
		}
		if c.super != "" {
			if err := p.addType(c.super); err != nil {
				return err
			}
		}
		for _, f := range c.fields {
			if err := p.addField(f.ref); err != nil {
				return err
			}
		}
		for _, m := range c.methods {
			if err := p.addMethod(m.ref); err != nil {
				return err
			}
			if m.code == nil {
				continue
			}
			for _, in := range m.code.insns {
				var err error
				switch in.kind {
				case fixString, fixStringJumbo:
					p.addString(in.str)
				case fixMethod:
					err = p.addMethod(in.method)
				case fixField:
					err = p.addField(in.field)
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *pools) sort() {
	sort.Slice(p.strings, func(i, j int) bool { return dex.CompareStrings(p.strings[i], p.strings[j]) < 0 })
	for i, s := range p.strings {
		p.stringIdx[s] = uint32(i)
	}
	sort.Slice(p.types, func(i, j int) bool { return p.stringIdx[p.types[i]] < p.stringIdx[p.types[j]] })
	for i, t := range p.types {
		p.typeIdx[t] = uint32(i)
	}
	sort.Slice(p.protos, func(i, j int) bool {
		a, b := p.protos[i], p.protos[j]
		if a.ret != b.ret {
			return p.typeIdx[a.ret] < p.typeIdx[b.ret]
		}
		for k := 0; k < len(a.params) && k < len(b.params); k++ {
			if a.params[k] != b.params[k] {
				return p.typeIdx[a.params[k]] < p.typeIdx[b.params[k]]
			}
		}
		return len(a.params) < len(b.params)
	})
	for i, pr := range p.protos {
		p.protoIdx[protoKey(pr.ret, pr.params)] = uint32(i)
	}
	sort.Slice(p.fields, func(i, j int) bool {
		a, b := p.fields[i], p.fields[j]
		if a.Class != b.Class {
			return p.typeIdx[a.Class] < p.typeIdx[b.Class]
		}
		if a.Name != b.Name {
			return p.stringIdx[a.Name] < p.stringIdx[b.Name]
		}
		return p.typeIdx[a.Type] < p.typeIdx[b.Type]
	})
	for i, f := range p.fields {
		p.fieldIdx[f.String()] = uint32(i)
	}
	sort.Slice(p.methods, func(i, j int) bool {
		a, b := p.methods[i], p.methods[j]
		if a.Class != b.Class {
			return p.typeIdx[a.Class] < p.typeIdx[b.Class]
		}
		if a.Name != b.Name {
			return p.stringIdx[a.Name] < p.stringIdx[b.Name]
		}
		return p.protoIdx[protoKey(a.Return, a.Params)] < p.protoIdx[protoKey(b.Return, b.Params)]
	})
	for i, m := range p.methods {
		p.methodIdx[m.String()] = uint32(i)
	}
}

func (p *pools) writeClassData(w *writer, c *Class, codeOffs map[*Method]uint32) {
	var static, instance []*fieldDef
	for _, f := range c.fields {
		if f.flags&dex.AccStatic != 0 {
			static = append(static, f)
		} else {
			instance = append(instance, f)
		}
	}
	var direct, virtual []*Method
	for _, m := range c.methods {
		if m.direct() {
			direct = append(direct, m)
		} else {
			virtual = append(virtual, m)
		}
	}
	byField := func(fs []*fieldDef) {
		sort.SliceStable(fs, func(i, j int) bool {
			return p.fieldIdx[fs[i].ref.String()] < p.fieldIdx[fs[j].ref.String()]
		})
	}
	byMethod := func(ms []*Method) {
		sort.SliceStable(ms, func(i, j int) bool {
			return p.methodIdx[ms[i].ref.String()] < p.methodIdx[ms[j].ref.String()]
		})
	}
	byField(static)
	byField(instance)
	byMethod(direct)
	byMethod(virtual)

	w.uleb(uint32(len(static)))
	w.uleb(uint32(len(instance)))
	w.uleb(uint32(len(direct)))
	w.uleb(uint32(len(virtual)))
	for _, fs := range [][]*fieldDef{static, instance} {
		prev := uint32(0)
		for _, f := range fs {
			idx := p.fieldIdx[f.ref.String()]
			w.uleb(idx - prev)
			w.uleb(f.flags)
			prev = idx
		}
	}
	for _, ms := range [][]*Method{direct, virtual} {
		prev := uint32(0)
		for _, m := range ms {
			idx := p.methodIdx[m.ref.String()]
			w.uleb(idx - prev)
			w.uleb(m.flags)
			off := codeOffs[m]
			if m.forceOff != nil {
				off = *m.forceOff
			}
			w.uleb(off)
			prev = idx
		}
	}
}

type writer struct {
	buf []byte
}

func (w *writer) len() int { return len(w.buf) }

func (w *writer) reserve(n int) int {
	if n == 0 {
		return 0
	}
	off := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return off
}

func (w *writer) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) uleb(v uint32) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

func (w *writer) put16(at int, v uint16) { binary.LittleEndian.PutUint16(w.buf[at:], v) }

func (w *writer) put32(at int, v uint32) { binary.LittleEndian.PutUint32(w.buf[at:], v) }

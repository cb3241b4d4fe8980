package dexbuild

import (
	"encoding/binary"

	"github.com/dexhelper/internal/dex"
	"github.com/dexhelper/internal/handle"
)

type fixKind uint8

const (
	fixNone fixKind = iota
	fixString
	fixStringJumbo
	fixMethod
	fixField
	fixPayload
)

type insn struct {
	units   []uint16
	kind    fixKind
	str     string
	method  handle.MethodRef
	field   handle.FieldRef
	payload []uint16
}

// Code accumulates the instructions of one method body. Pool indices are
// patched in when the container is built.
type Code struct {
	insns     []insn
	registers uint16
}

func (c *Code) emit(in insn) *Code {
	c.insns = append(c.insns, in)
	return c
}

// Registers overrides the register count; the default leaves eight locals.
func (c *Code) Registers(n uint16) *Code {
	c.registers = n
	return c
}

// Raw appends literal code units.
func (c *Code) Raw(units ...uint16) *Code {
	return c.emit(insn{units: units})
}

func (c *Code) Nop() *Code { return c.Raw(dex.OpNop) }

func (c *Code) ReturnVoid() *Code { return c.Raw(dex.OpReturnVoid) }

func (c *Code) Return(reg uint8) *Code { return c.Raw(dex.OpReturn | uint16(reg)<<8) }

func (c *Code) Const4(dst uint8, v int8) *Code {
	return c.Raw(dex.OpConst4 | uint16(dst&0xf)<<8 | uint16(uint8(v)&0xf)<<12)
}

// Const loads a 32-bit literal (format 31i).
func (c *Code) Const(dst uint8, v int32) *Code {
	return c.Raw(dex.OpConst|uint16(dst)<<8, uint16(uint32(v)), uint16(uint32(v)>>16))
}

// ConstWide loads a 64-bit literal (format 51l).
func (c *Code) ConstWide(dst uint8, v int64) *Code {
	u := uint64(v)
	return c.Raw(dex.OpConstWide|uint16(dst)<<8, uint16(u), uint16(u>>16), uint16(u>>32), uint16(u>>48))
}

func (c *Code) ConstString(dst uint8, s string) *Code {
	return c.emit(insn{units: []uint16{dex.OpConstString | uint16(dst)<<8, 0}, kind: fixString, str: s})
}

func (c *Code) ConstStringJumbo(dst uint8, s string) *Code {
	return c.emit(insn{units: []uint16{dex.OpConstStringJumbo | uint16(dst)<<8, 0, 0}, kind: fixStringJumbo, str: s})
}

// Invoke emits a format 35c invoke with up to five argument registers.
func (c *Code) Invoke(op uint8, ref handle.MethodRef, args ...uint8) *Code {
	return c.emit(insn{units: invoke35c(op, args), kind: fixMethod, method: ref})
}

func (c *Code) InvokeVirtual(ref handle.MethodRef, args ...uint8) *Code {
	return c.Invoke(dex.OpInvokeVirtual, ref, args...)
}

func (c *Code) InvokeDirect(ref handle.MethodRef, args ...uint8) *Code {
	return c.Invoke(dex.OpInvokeDirect, ref, args...)
}

func (c *Code) InvokeStatic(ref handle.MethodRef, args ...uint8) *Code {
	return c.Invoke(dex.OpInvokeStatic, ref, args...)
}

// InvokeRange emits a format 3rc invoke; op must be one of the /range opcodes.
func (c *Code) InvokeRange(op uint8, ref handle.MethodRef, first uint16, count uint8) *Code {
	return c.emit(insn{units: []uint16{uint16(op) | uint16(count)<<8, 0, first}, kind: fixMethod, method: ref})
}

// InvokePolymorphic emits a format 45cc invoke-polymorphic referencing proto 0.
func (c *Code) InvokePolymorphic(ref handle.MethodRef, args ...uint8) *Code {
	units := append(invoke35c(dex.OpInvokePolymorphic, args), 0)
	return c.emit(insn{units: units, kind: fixMethod, method: ref})
}

func invoke35c(op uint8, args []uint8) []uint16 {
	var regs [5]uint16
	for i, a := range args {
		if i < 5 {
			regs[i] = uint16(a & 0xf)
		}
	}
	return []uint16{
		uint16(op) | uint16(len(args))<<12 | regs[4]<<8,
		0,
		regs[0] | regs[1]<<4 | regs[2]<<8 | regs[3]<<12,
	}
}

func (c *Code) fieldOp(op uint8, a, b uint8, static bool, ref handle.FieldRef) *Code {
	first := uint16(op) | uint16(a)<<8
	if !static {
		first = uint16(op) | uint16(a&0xf)<<8 | uint16(b&0xf)<<12
	}
	return c.emit(insn{units: []uint16{first, 0}, kind: fixField, field: ref})
}

func (c *Code) Iget(dst, obj uint8, ref handle.FieldRef) *Code {
	return c.fieldOp(dex.OpIget, dst, obj, false, ref)
}

func (c *Code) Iput(src, obj uint8, ref handle.FieldRef) *Code {
	return c.fieldOp(dex.OpIput, src, obj, false, ref)
}

func (c *Code) Sget(dst uint8, ref handle.FieldRef) *Code {
	return c.fieldOp(dex.OpSget, dst, 0, true, ref)
}

func (c *Code) Sput(src uint8, ref handle.FieldRef) *Code {
	return c.fieldOp(dex.OpSput, src, 0, true, ref)
}

// PackedSwitch emits a packed-switch whose payload is appended after the body.
func (c *Code) PackedSwitch(reg uint8, firstKey int32, targets ...int32) *Code {
	payload := []uint16{dex.PackedSwitchPayload, uint16(len(targets))}
	payload = appendU32(payload, uint32(firstKey))
	for _, t := range targets {
		payload = appendU32(payload, uint32(t))
	}
	return c.emit(insn{units: []uint16{dex.OpPackedSwitch | uint16(reg)<<8, 0, 0}, kind: fixPayload, payload: payload})
}

// SparseSwitch emits a sparse-switch; keys and targets must have equal length.
func (c *Code) SparseSwitch(reg uint8, keys, targets []int32) *Code {
	payload := []uint16{dex.SparseSwitchPayload, uint16(len(keys))}
	for _, k := range keys {
		payload = appendU32(payload, uint32(k))
	}
	for _, t := range targets {
		payload = appendU32(payload, uint32(t))
	}
	return c.emit(insn{units: []uint16{dex.OpSparseSwitch | uint16(reg)<<8, 0, 0}, kind: fixPayload, payload: payload})
}

// FillArrayData emits fill-array-data with elements of the given byte width.
func (c *Code) FillArrayData(reg uint8, width uint16, data []byte) *Code {
	size := uint32(len(data)) / uint32(width)
	payload := []uint16{dex.FillArrayDataPayload, width}
	payload = appendU32(payload, size)
	padded := append(append([]byte(nil), data...), make([]byte, len(data)%2)...)
	for i := 0; i < len(padded); i += 2 {
		payload = append(payload, binary.LittleEndian.Uint16(padded[i:]))
	}
	return c.emit(insn{units: []uint16{dex.OpFillArrayData | uint16(reg)<<8, 0, 0}, kind: fixPayload, payload: payload})
}

func appendU32(units []uint16, v uint32) []uint16 {
	return append(units, uint16(v), uint16(v>>16))
}

// assemble patches pool indices and lays payloads out after the body,
// aligned to an even code unit.
func (c *Code) assemble(p *pools) ([]uint16, error) {
	var out []uint16
	type pending struct {
		at      int
		payload []uint16
	}
	var payloads []pending
	for _, in := range c.insns {
		at := len(out)
		units := append([]uint16(nil), in.units...)
		switch in.kind {
		case fixString:
			idx := p.stringIdx[in.str]
			if idx > 0xffff {
				return nil, errTooLarge("const-string index", idx)
			}
			units[1] = uint16(idx)
		case fixStringJumbo:
			idx := p.stringIdx[in.str]
			units[1], units[2] = uint16(idx), uint16(idx>>16)
		case fixMethod:
			units[1] = uint16(p.methodIdx[in.method.String()])
		case fixField:
			units[1] = uint16(p.fieldIdx[in.field.String()])
		case fixPayload:
			payloads = append(payloads, pending{at: at, payload: in.payload})
		}
		out = append(out, units...)
	}
	for _, pl := range payloads {
		if len(out)%2 != 0 {
			out = append(out, dex.OpNop)
		}
		rel := uint32(len(out) - pl.at)
		out[pl.at+1], out[pl.at+2] = uint16(rel), uint16(rel>>16)
		out = append(out, pl.payload...)
	}
	return out, nil
}

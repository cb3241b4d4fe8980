package dex

// Opcodes referenced by the scanner and the test builder.
const (
	OpNop               = 0x00
	OpMove              = 0x01
	OpReturnVoid        = 0x0e
	OpReturn            = 0x0f
	OpConst4            = 0x12
	OpConst16           = 0x13
	OpConst             = 0x14
	OpConstWide         = 0x18
	OpConstString       = 0x1a
	OpConstStringJumbo  = 0x1b
	OpConstClass        = 0x1c
	OpNewInstance       = 0x22
	OpFillArrayData     = 0x26
	OpGoto              = 0x28
	OpPackedSwitch      = 0x2b
	OpSparseSwitch      = 0x2c
	OpIget              = 0x52
	OpIgetShort         = 0x58
	OpIput              = 0x59
	OpIputShort         = 0x5f
	OpSget              = 0x60
	OpSgetShort         = 0x66
	OpSput              = 0x67
	OpSputShort         = 0x6d
	OpInvokeVirtual     = 0x6e
	OpInvokeSuper       = 0x6f
	OpInvokeDirect      = 0x70
	OpInvokeStatic      = 0x71
	OpInvokeInterface   = 0x72
	OpInvokeVirtualR    = 0x74
	OpInvokeInterfaceR  = 0x78
	OpInvokePolymorphic = 0xfa
	OpInvokePolyRange   = 0xfb
	OpInvokeCustom      = 0xfc
	OpInvokeCustomRange = 0xfd
)

// Payload pseudo-instruction identifiers (full 16-bit code unit).
const (
	PackedSwitchPayload  = 0x0100
	SparseSwitchPayload  = 0x0200
	FillArrayDataPayload = 0x0300
)

// widths holds the length in 16-bit code units of each opcode. Unused opcodes are 1.
var widths = func() [256]uint8 {
	var w [256]uint8
	for i := range w {
		w[i] = 1
	}
	set := func(width uint8, ops ...int) {
		for _, op := range ops {
			w[op] = width
		}
	}
	span := func(width uint8, from, to int) {
		for op := from; op <= to; op++ {
			w[op] = width
		}
	}

	set(2, 0x02, 0x05, 0x08, 0x13, 0x15, 0x16, 0x19, 0x1a, 0x1c, 0x1f, 0x20, 0x22, 0x23, 0x29, 0xfe, 0xff)
	span(2, 0x2d, 0x3d)
	span(2, 0x44, 0x6d)
	span(2, 0x90, 0xaf)
	span(2, 0xd0, 0xe2)

	set(3, 0x03, 0x06, 0x09, 0x14, 0x17, 0x1b, 0x24, 0x25, 0x26, 0x2a, 0x2b, 0x2c, 0xfc, 0xfd)
	span(3, 0x6e, 0x72)
	span(3, 0x74, 0x78)

	set(4, 0xfa, 0xfb)
	set(5, 0x18)
	return w
}()

// Width returns the instruction length of op in 16-bit code units.
func Width(op uint8) int {
	return int(widths[op])
}

// IsInvoke reports whether op references a method_id in its first index operand.
func IsInvoke(op uint8) bool {
	return (op >= OpInvokeVirtual && op <= OpInvokeInterface) ||
		(op >= OpInvokeVirtualR && op <= OpInvokeInterfaceR) ||
		op == OpInvokePolymorphic || op == OpInvokePolyRange
}

// IsFieldGet reports whether op is an iget or sget variant.
func IsFieldGet(op uint8) bool {
	return (op >= OpIget && op <= OpIgetShort) || (op >= OpSget && op <= OpSgetShort)
}

// IsFieldPut reports whether op is an iput or sput variant.
func IsFieldPut(op uint8) bool {
	return (op >= OpIput && op <= OpIputShort) || (op >= OpSput && op <= OpSputShort)
}

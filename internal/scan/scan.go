// Package scan decodes a method body once and records what it references.
package scan

import (
	"fmt"
	"slices"
	"sort"

	"github.com/dexhelper/internal/dex"
)

// Observation is what one pass over a code item saw. Every slice is sorted
// and free of duplicates.
type Observation struct {
	Strings []uint32
	Invokes []uint32
	Gets    []uint32
	Puts    []uint32
}

// Empty is the observation of a body-less method.
var Empty = &Observation{}

// TruncatedError reports an instruction running past the end of the stream.
type TruncatedError struct {
	PC    int
	Op    uint16
	Need  int
	Units int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("instruction 0x%04x at pc %d needs %d code units, %d remain", e.Op, e.PC, e.Need, e.Units-e.PC)
}

// Scan walks insns linearly, skipping switch and array payloads.
func Scan(insns []uint16) (*Observation, error) {
	obs := &Observation{}
	for pc := 0; pc < len(insns); {
		unit := insns[pc]
		op := uint8(unit)

		n, err := width(insns, pc)
		if err != nil {
			return nil, err
		}
		if pc+n > len(insns) {
			return nil, &TruncatedError{PC: pc, Op: unit, Need: n, Units: len(insns)}
		}

		switch {
		case unit == dex.PackedSwitchPayload || unit == dex.SparseSwitchPayload || unit == dex.FillArrayDataPayload:
		case op == dex.OpConstString:
			obs.Strings = append(obs.Strings, uint32(insns[pc+1]))
		case op == dex.OpConstStringJumbo:
			obs.Strings = append(obs.Strings, uint32(insns[pc+1])|uint32(insns[pc+2])<<16)
		case dex.IsInvoke(op):
			obs.Invokes = append(obs.Invokes, uint32(insns[pc+1]))
		case dex.IsFieldGet(op):
			obs.Gets = append(obs.Gets, uint32(insns[pc+1]))
		case dex.IsFieldPut(op):
			obs.Puts = append(obs.Puts, uint32(insns[pc+1]))
		}
		pc += n
	}
	obs.Strings = normalize(obs.Strings)
	obs.Invokes = normalize(obs.Invokes)
	obs.Gets = normalize(obs.Gets)
	obs.Puts = normalize(obs.Puts)
	return obs, nil
}

func width(insns []uint16, pc int) (int, error) {
	unit := insns[pc]
	header := func(units int) error {
		if pc+units > len(insns) {
			return &TruncatedError{PC: pc, Op: unit, Need: units, Units: len(insns)}
		}
		return nil
	}
	switch unit {
	case dex.PackedSwitchPayload:
		if err := header(2); err != nil {
			return 0, err
		}
		return int(insns[pc+1])*2 + 4, nil
	case dex.SparseSwitchPayload:
		if err := header(2); err != nil {
			return 0, err
		}
		return int(insns[pc+1])*4 + 2, nil
	case dex.FillArrayDataPayload:
		if err := header(4); err != nil {
			return 0, err
		}
		elemWidth := uint64(insns[pc+1])
		size := uint64(insns[pc+2]) | uint64(insns[pc+3])<<16
		n := (elemWidth*size+1)/2 + 4
		if n > uint64(len(insns)) {
			return 0, &TruncatedError{PC: pc, Op: unit, Need: len(insns) + 1, Units: len(insns)}
		}
		return int(n), nil
	}
	return dex.Width(uint8(unit)), nil
}

func normalize(ids []uint32) []uint32 {
	if len(ids) == 0 {
		return nil
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func contains(ids []uint32, id uint32) bool {
	_, ok := slices.BinarySearch(ids, id)
	return ok
}

// HasString reports whether the body loads string id.
func (o *Observation) HasString(id uint32) bool { return contains(o.Strings, id) }

// HasStringIn reports whether the body loads any string id in [lo, hi).
func (o *Observation) HasStringIn(lo, hi uint32) bool {
	i := sort.Search(len(o.Strings), func(i int) bool { return o.Strings[i] >= lo })
	return i < len(o.Strings) && o.Strings[i] < hi
}

// HasInvoke reports whether the body invokes method id.
func (o *Observation) HasInvoke(id uint32) bool { return contains(o.Invokes, id) }

// HasGet reports whether the body reads field id.
func (o *Observation) HasGet(id uint32) bool { return contains(o.Gets, id) }

// HasPut reports whether the body writes field id.
func (o *Observation) HasPut(id uint32) bool { return contains(o.Puts, id) }

// Package collections provides the small generic containers used by the
// index and the call graph walker.
package collections

import "math/bits"

// Bitset is a dense set of non-negative ints, one bit per element.
// It is not safe for concurrent mutation.
type Bitset struct {
	words []uint64
	size  int
}

// NewBitset creates a bitset able to hold [0, size) without growing.
func NewBitset(size int) *Bitset {
	if size < 0 {
		size = 0
	}
	return &Bitset{words: make([]uint64, (size+63)/64), size: size}
}

// Set adds i, growing the set when needed.
func (b *Bitset) Set(i int) {
	if i < 0 {
		return
	}
	w := i / 64
	if w >= len(b.words) {
		grown := make([]uint64, max(w+1, 2*len(b.words)))
		copy(grown, b.words)
		b.words = grown
	}
	b.words[w] |= 1 << (i % 64)
	if i >= b.size {
		b.size = i + 1
	}
}

// Clear removes i.
func (b *Bitset) Clear(i int) {
	if i < 0 || i/64 >= len(b.words) {
		return
	}
	b.words[i/64] &^= 1 << (i % 64)
}

// Test reports whether i is in the set.
func (b *Bitset) Test(i int) bool {
	if i < 0 || i/64 >= len(b.words) {
		return false
	}
	return b.words[i/64]&(1<<(i%64)) != 0
}

// Count returns the number of members.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Size returns one past the largest index the set was sized or grown for.
func (b *Bitset) Size() int {
	return b.size
}

// Iterate calls fn for each member in ascending order until fn returns false.
func (b *Bitset) Iterate(fn func(i int) bool) {
	for wi, w := range b.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			if !fn(wi*64 + tz) {
				return
			}
			w &= w - 1
		}
	}
}

// ToSlice returns the members in ascending order.
func (b *Bitset) ToSlice() []int {
	out := make([]int, 0, b.Count())
	b.Iterate(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}

// VersionedBitset is a visited set that resets in O(1) by bumping a
// generation counter. The call graph walker reuses one per traversal.
type VersionedBitset struct {
	gens    []uint32
	current uint32
}

// NewVersionedBitset creates a visited set for [0, size).
func NewVersionedBitset(size int) *VersionedBitset {
	return &VersionedBitset{gens: make([]uint32, max(size, 0)), current: 1}
}

// Set marks i visited in the current generation.
func (v *VersionedBitset) Set(i int) {
	if i < 0 {
		return
	}
	if i >= len(v.gens) {
		grown := make([]uint32, max(i+1, 2*len(v.gens)))
		copy(grown, v.gens)
		v.gens = grown
	}
	v.gens[i] = v.current
}

// Test reports whether i was marked in the current generation.
func (v *VersionedBitset) Test(i int) bool {
	return i >= 0 && i < len(v.gens) && v.gens[i] == v.current
}

// Reset forgets every mark.
func (v *VersionedBitset) Reset() {
	v.current++
	if v.current == 0 {
		clear(v.gens)
		v.current = 1
	}
}

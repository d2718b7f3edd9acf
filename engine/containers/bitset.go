package containers

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

const wordBits = 64

// BitSet is a fixed capacity set of small unsigned indices.
type BitSet struct {
	words []uint64
	size  uint
}

func NewBitSet(size uint) *BitSet {
	return &BitSet{
		words: make([]uint64, (size+wordBits-1)/wordBits),
		size:  size,
	}
}

func (b *BitSet) Size() uint {
	return b.size
}

func (b *BitSet) Set(i uint) {
	b.check(i)
	b.words[i/wordBits] |= 1 << (i % wordBits)
}

func (b *BitSet) Reset(i uint) {
	b.check(i)
	b.words[i/wordBits] &^= 1 << (i % wordBits)
}

func (b *BitSet) Test(i uint) bool {
	b.check(i)
	return b.words[i/wordBits]&(1<<(i%wordBits)) != 0
}

// Flip inverts every bit of the set. Bits beyond Size stay cleared so that
// Count and Any only ever see valid indices.
func (b *BitSet) Flip() {
	for i := range b.words {
		b.words[i] = ^b.words[i]
	}
	if rem := b.size % wordBits; rem != 0 && len(b.words) > 0 {
		b.words[len(b.words)-1] &= (1 << rem) - 1
	}
}

func (b *BitSet) ResetAll() {
	for i := range b.words {
		b.words[i] = 0
	}
}

func (b *BitSet) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b *BitSet) Any() bool {
	for _, w := range b.words {
		if w != 0 {
			return true
		}
	}
	return false
}

// ForEach calls fn with every set index in ascending order.
func (b *BitSet) ForEach(fn func(i uint)) {
	for wi, w := range b.words {
		for w != 0 {
			tz := uint(bits.TrailingZeros64(w))
			fn(uint(wi)*wordBits + tz)
			w &= w - 1
		}
	}
}

func (b *BitSet) check(i uint) {
	if i >= b.size {
		panic("containers: bit index out of range")
	}
}

// Indices turns a list of integer indices into a set of the given size.
func Indices[T constraints.Unsigned](size uint, idx ...T) *BitSet {
	b := NewBitSet(size)
	for _, i := range idx {
		b.Set(uint(i))
	}
	return b
}

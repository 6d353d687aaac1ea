package mdp

import (
	"fmt"
	"math/bits"
	"strings"
)

// BitVector is an ordered indicator set over states 0..length-1.
// State sets handed to the checkers are treated as immutable inputs;
// all set operations below return fresh vectors.
type BitVector struct {
	length int
	words  []uint64
}

// NewBitVector creates an empty set over the given number of states.
func NewBitVector(length int) *BitVector {
	return &BitVector{
		length: length,
		words:  make([]uint64, (length+63)/64),
	}
}

// NewBitVectorFromIndices creates a set containing exactly the given states.
func NewBitVectorFromIndices(length int, indices ...int) *BitVector {
	b := NewBitVector(length)
	for _, i := range indices {
		b.Set(i)
	}
	return b
}

// FullBitVector creates a set containing every state.
func FullBitVector(length int) *BitVector {
	return NewBitVector(length).Complement()
}

func (b *BitVector) Len() int { return b.length }

func (b *BitVector) Set(i int) {
	b.words[i/64] |= 1 << (uint(i) % 64)
}

func (b *BitVector) Clear(i int) {
	b.words[i/64] &^= 1 << (uint(i) % 64)
}

func (b *BitVector) Get(i int) bool {
	return b.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Count returns the number of states in the set.
func (b *BitVector) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Copy returns an independent copy of the set.
func (b *BitVector) Copy() *BitVector {
	out := &BitVector{length: b.length, words: make([]uint64, len(b.words))}
	copy(out.words, b.words)
	return out
}

// Union returns the set of states in b or other.
func (b *BitVector) Union(other *BitVector) *BitVector {
	out := b.Copy()
	for i, w := range other.words {
		out.words[i] |= w
	}
	return out
}

// Intersect returns the set of states in both b and other.
func (b *BitVector) Intersect(other *BitVector) *BitVector {
	out := b.Copy()
	for i, w := range other.words {
		out.words[i] &= w
	}
	return out
}

// Difference returns the set of states in b but not in other.
func (b *BitVector) Difference(other *BitVector) *BitVector {
	out := b.Copy()
	for i, w := range other.words {
		out.words[i] &^= w
	}
	return out
}

// Complement returns the set of states not in b.
func (b *BitVector) Complement() *BitVector {
	out := b.Copy()
	for i := range out.words {
		out.words[i] = ^out.words[i]
	}
	out.maskTail()
	return out
}

// maskTail clears the unused bits of the last word so Count and Equal
// stay honest after a complement.
func (b *BitVector) maskTail() {
	if rem := b.length % 64; rem != 0 && len(b.words) > 0 {
		b.words[len(b.words)-1] &= (1 << uint(rem)) - 1
	}
}

// IsDisjoint reports whether b and other share no state.
func (b *BitVector) IsDisjoint(other *BitVector) bool {
	for i, w := range b.words {
		if w&other.words[i] != 0 {
			return false
		}
	}
	return true
}

// Empty reports whether the set contains no state.
func (b *BitVector) Empty() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

func (b *BitVector) Equal(other *BitVector) bool {
	if b.length != other.length {
		return false
	}
	for i, w := range b.words {
		if w != other.words[i] {
			return false
		}
	}
	return true
}

// NextSet returns the smallest set state >= from, or -1 if there is none.
func (b *BitVector) NextSet(from int) int {
	if from >= b.length {
		return -1
	}
	i := from / 64
	w := b.words[i] >> (uint(from) % 64)
	if w != 0 {
		return from + bits.TrailingZeros64(w)
	}
	for i++; i < len(b.words); i++ {
		if b.words[i] != 0 {
			return i*64 + bits.TrailingZeros64(b.words[i])
		}
	}
	return -1
}

// Indices returns the set states in increasing order.
func (b *BitVector) Indices() []int {
	out := make([]int, 0, b.Count())
	for i := b.NextSet(0); i >= 0; i = b.NextSet(i + 1) {
		out = append(out, i)
	}
	return out
}

func (b *BitVector) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	first := true
	for i := b.NextSet(0); i >= 0; i = b.NextSet(i + 1) {
		if !first {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", i)
		first = false
	}
	sb.WriteString("}")
	return sb.String()
}

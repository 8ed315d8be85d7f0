// Package seqbuf implements SequenceBuffer[T], a fixed-size ring indexed by
// a 16-bit sequence number modulo its capacity, giving O(1) insert/lookup
// and O(1) eviction of stale entries by sequence-distance.
package seqbuf

import "github.com/ventosilenzioso/reliable/pkg/seqnum"

// entry tracks whether a slot is currently populated, distinguishing an
// empty slot from one holding the zero value of T.
type entry[T any] struct {
	valid bool
	seq   uint16
	value T
}

// SequenceBuffer is a ring buffer of capacity size, indexed by sequence
// number mod size. Inserting at a sequence far enough ahead of what a slot
// currently holds evicts the old entry.
type SequenceBuffer[T any] struct {
	size    int
	entries []entry[T]
}

func New[T any](size int) *SequenceBuffer[T] {
	if size <= 0 {
		panic("seqbuf: size must be positive")
	}
	return &SequenceBuffer[T]{
		size:    size,
		entries: make([]entry[T], size),
	}
}

func (b *SequenceBuffer[T]) Size() int { return b.size }

func (b *SequenceBuffer[T]) index(seq uint16) int {
	return int(seq) % b.size
}

// Insert stores value at seq, overwriting whatever the slot previously
// held regardless of that slot's own sequence (callers are expected to
// check Exists first when overwrite-of-different-sequence matters).
func (b *SequenceBuffer[T]) Insert(seq uint16, value T) {
	i := b.index(seq)
	b.entries[i] = entry[T]{valid: true, seq: seq, value: value}
}

// Exists reports whether seq is currently occupied by an entry with that
// exact sequence number (not just any entry in the same slot).
func (b *SequenceBuffer[T]) Exists(seq uint16) bool {
	e := &b.entries[b.index(seq)]
	return e.valid && e.seq == seq
}

// Find returns the value at seq and whether it was present.
func (b *SequenceBuffer[T]) Find(seq uint16) (T, bool) {
	e := &b.entries[b.index(seq)]
	if e.valid && e.seq == seq {
		return e.value, true
	}
	var zero T
	return zero, false
}

// Remove clears the slot for seq if it currently holds that sequence.
func (b *SequenceBuffer[T]) Remove(seq uint16) {
	e := &b.entries[b.index(seq)]
	if e.valid && e.seq == seq {
		*e = entry[T]{}
	}
}

// RemoveOlderThan evicts every entry whose sequence is sequence-less-than
// seq, used when advancing a window boundary past a run of empty/acked
// slots.
func (b *SequenceBuffer[T]) RemoveOlderThan(seq uint16) {
	for i := range b.entries {
		e := &b.entries[i]
		if e.valid && seqnum.LessThan(e.seq, seq) {
			*e = entry[T]{}
		}
	}
}

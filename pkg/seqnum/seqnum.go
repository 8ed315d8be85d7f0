// Package seqnum implements the wrap-around ordering used for every 16-bit
// sequence number in the protocol: packet sequences, message ids, block ids.
package seqnum

import "github.com/lithdew/seq"

// GreaterThan reports whether a is ahead of b on the 16-bit wrap-around
// number line: (a > b && a-b <= 32768) || (a < b && b-a > 32768).
func GreaterThan(a, b uint16) bool {
	return seq.GT(a, b)
}

// LessThan is the strict inverse of GreaterThan for distinct a, b.
func LessThan(a, b uint16) bool {
	return a != b && seq.GT(b, a)
}

// GreaterThanOrEqual reports whether a is not behind b.
func GreaterThanOrEqual(a, b uint16) bool {
	return a == b || seq.GT(a, b)
}

// InWindow reports whether id falls in [start, start+size) under wrap-around
// ordering, i.e. id is not behind start and is strictly behind start+size.
func InWindow(id, start uint16, size int) bool {
	if LessThan(id, start) {
		return false
	}
	return LessThan(id, start+uint16(size))
}

// Package ackengine implements the Connection Packet Acknowledgement
// Engine (spec.md §4.2): per-packet 32-bit ACK bitfield encode/decode,
// duplicate detection on the receive side, and translation of an
// incoming (ack, ackBits) header into the set of packet sequences newly
// acknowledged since the last time we looked.
package ackengine

import (
	"github.com/ventosilenzioso/reliable/pkg/seqbuf"
	"github.com/ventosilenzioso/reliable/pkg/seqnum"
)

// BitsetSize is the width of the ACK bitfield: together with the ack
// field itself it covers the most recent 33 packet sequences (glossary).
const BitsetSize = 32

// noAck is the ack value stamped on outgoing packets before anything has
// been received from the peer. It is deliberately not 0: sequence 0 is a
// real, commonly-acked packet sequence, and a (0, 0) placeholder is
// indistinguishable on the wire from "packet 0 was received." A peer
// would only legitimately ack 0xFFFF after sending 65536 packets, so this
// value never aliases with an early genuine ack.
const noAck uint16 = 0xFFFF

// Engine tracks one connection's outgoing packet sequence, the highest
// packet sequence received from the peer plus the last 32 before it (for
// both outgoing ACK headers and incoming duplicate detection), and which
// of the peer's acknowledgements we've already surfaced to channels.
type Engine struct {
	sentSeq uint16

	hasReceived  bool
	receivedSeq  uint16
	receivedBits uint32

	notified *seqbuf.SequenceBuffer[struct{}]
}

// New builds an Engine. windowSize bounds how many distinct peer acks are
// remembered as "already notified" before the slot is reused; it should
// match the connection's slidingWindowSize.
func New(windowSize int) *Engine {
	return &Engine{receivedSeq: noAck, notified: seqbuf.New[struct{}](windowSize)}
}

// NextSendSequence returns the sequence for the next outgoing packet and
// advances the counter.
func (e *Engine) NextSendSequence() uint16 {
	s := e.sentSeq
	e.sentSeq++
	return s
}

// AckHeader returns the (ack, ackBits) pair to stamp on the next outgoing
// packet: ack is the highest received packet sequence, and bit i of
// ackBits is set iff ack-(i+1) was also received. Before anything has
// been received from the peer, ack is the noAck sentinel rather than 0.
func (e *Engine) AckHeader() (ack uint16, ackBits uint32) {
	if !e.hasReceived {
		return noAck, 0
	}
	return e.receivedSeq, e.receivedBits
}

// OnReceive records an incoming packet sequence and reports whether it is
// a duplicate (already recorded, or so far behind the receive window that
// it must be a stale retransmit) and should be dropped before any
// per-channel processing (spec.md §4.3).
func (e *Engine) OnReceive(seq uint16) (duplicate bool) {
	if !e.hasReceived {
		e.hasReceived = true
		e.receivedSeq = seq
		e.receivedBits = 0
		return false
	}

	if seqnum.GreaterThan(seq, e.receivedSeq) {
		shift := seq - e.receivedSeq
		if shift > BitsetSize {
			e.receivedBits = 0
		} else {
			e.receivedBits = (e.receivedBits << shift) | (1 << (shift - 1))
		}
		e.receivedSeq = seq
		return false
	}

	if seq == e.receivedSeq {
		return true
	}

	distance := e.receivedSeq - seq
	if distance > BitsetSize {
		return true
	}

	bit := uint32(1) << (distance - 1)
	if e.receivedBits&bit != 0 {
		return true
	}
	e.receivedBits |= bit
	return false
}

// NewlyAcked decodes an incoming (ack, ackBits) header from the peer and
// returns the packet sequences we sent that are acknowledged for the
// first time. Each sequence is returned at most once across the engine's
// lifetime (bounded by windowSize), which is what makes repeated
// ProcessAck delivery for the same packet a no-op at the channel level.
// An ack of noAck means the peer hasn't received anything from us yet
// and is reported as no newly-acked sequences at all.
func (e *Engine) NewlyAcked(ack uint16, ackBits uint32) []uint16 {
	if ack == noAck {
		return nil
	}

	var out []uint16
	consider := func(seq uint16) {
		if !e.notified.Exists(seq) {
			e.notified.Insert(seq, struct{}{})
			out = append(out, seq)
		}
	}

	consider(ack)
	for i := 0; i < BitsetSize; i++ {
		if ackBits&(uint32(1)<<uint(i)) != 0 {
			consider(ack - uint16(i+1))
		}
	}
	return out
}

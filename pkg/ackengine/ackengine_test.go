package ackengine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable/pkg/ackengine"
)

func TestSequentialReceiveNoDuplicate(t *testing.T) {
	e := ackengine.New(256)
	for seq := uint16(0); seq < 40; seq++ {
		require.False(t, e.OnReceive(seq))
	}
	ack, bits := e.AckHeader()
	require.EqualValues(t, 39, ack)
	// all 32 prior sequences received: bits should be all ones
	require.Equal(t, uint32(0xFFFFFFFF), bits)
}

func TestDuplicateDetected(t *testing.T) {
	e := ackengine.New(256)
	require.False(t, e.OnReceive(5))
	require.False(t, e.OnReceive(6))
	require.True(t, e.OnReceive(5)) // duplicate
	require.True(t, e.OnReceive(6)) // duplicate
}

func TestReorderedReceiveStillAcksOlder(t *testing.T) {
	e := ackengine.New(256)
	require.False(t, e.OnReceive(10))
	require.False(t, e.OnReceive(12)) // gap at 11
	require.False(t, e.OnReceive(11)) // fills the gap, reordered

	ack, bits := e.AckHeader()
	require.EqualValues(t, 12, ack)
	require.NotZero(t, bits&(1<<0)) // seq 11 acked
	require.NotZero(t, bits&(1<<1)) // seq 10 acked
}

func TestUnreceivedAckHeaderNeverAliasesSequenceZero(t *testing.T) {
	e := ackengine.New(256)
	ack, bits := e.AckHeader()
	require.NotEqualValues(t, 0, ack)
	require.Zero(t, bits)

	// a peer decoding our not-yet-received placeholder header must not
	// treat it as "sequence 0 was acked"
	peer := ackengine.New(256)
	require.Empty(t, peer.NewlyAcked(ack, bits))
}

func TestNewlyAckedIsReportedOnce(t *testing.T) {
	e := ackengine.New(256)
	first := e.NewlyAcked(10, 0b11)
	require.ElementsMatch(t, []uint16{10, 9, 8}, first)

	second := e.NewlyAcked(10, 0b11)
	require.Empty(t, second)

	third := e.NewlyAcked(11, 0b11)
	require.ElementsMatch(t, []uint16{11}, third)
}

package bitstream_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable/pkg/bitstream"
)

func TestWriteReadRoundTrip(t *testing.T) {
	w := bitstream.NewWriter(64)
	w.WriteBool(true)
	w.WriteBoundedInt(5, 0, 15)
	w.WriteUint16(1234)
	w.WriteUint32(567890)
	w.WriteBytes([]byte("hello"))

	data := w.Bytes()
	r := bitstream.NewReader(data)

	b, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b)

	v, err := r.ReadBoundedInt(0, 15)
	require.NoError(t, err)
	require.Equal(t, 5, v)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	require.EqualValues(t, 1234, u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.EqualValues(t, 567890, u32)

	raw, err := r.ReadBytes(5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(raw))
}

func TestBitsRequired(t *testing.T) {
	require.Equal(t, 1, bitstream.BitsRequired(0))
	require.Equal(t, 1, bitstream.BitsRequired(1))
	require.Equal(t, 8, bitstream.BitsRequired(255))
	require.Equal(t, 9, bitstream.BitsRequired(256))
}

func TestUnderflow(t *testing.T) {
	r := bitstream.NewReader([]byte{0x01})
	_, err := r.ReadUint32()
	require.Error(t, err)
}

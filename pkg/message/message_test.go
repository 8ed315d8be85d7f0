package message_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable/pkg/bitstream"
	"github.com/ventosilenzioso/reliable/pkg/block"
	"github.com/ventosilenzioso/reliable/pkg/message"
)

// testMessage mirrors the original source's TestMessage: a single
// sequence field, used throughout the channel/connection test suites.
type testMessage struct {
	Sequence uint16
	id       uint16
}

func (m *testMessage) Type() message.Type { return 1 }
func (m *testMessage) ID() uint16         { return m.id }
func (m *testMessage) SetID(id uint16)    { m.id = id }

func (m *testMessage) Serialize(w *bitstream.Writer) error {
	w.WriteUint16(m.Sequence)
	return nil
}

func (m *testMessage) Deserialize(r *bitstream.Reader) error {
	v, err := r.ReadUint16()
	if err != nil {
		return err
	}
	m.Sequence = v
	return nil
}

func TestFactoryRegisterCreate(t *testing.T) {
	f := message.NewFactory()
	f.Register(1, func() message.Message { return &testMessage{} })

	require.Equal(t, 2, f.NumTypes())

	m, err := f.Create(1)
	require.NoError(t, err)
	require.Equal(t, message.Type(1), m.Type())

	_, err = f.Create(5)
	require.ErrorIs(t, err, message.ErrUnregisteredType)
}

func TestBlockMessageRoundTrip(t *testing.T) {
	b, err := block.New(32)
	require.NoError(t, err)
	for i := range b.Data {
		b.Data[i] = byte(i)
	}

	msg := message.NewBlockMessage(b)
	w := bitstream.NewWriter(64)
	require.NoError(t, msg.Serialize(w))

	var out message.BlockMessage
	require.NoError(t, out.Deserialize(bitstream.NewReader(w.Bytes())))
	require.Equal(t, b.Data, out.Block.Data)
}

func TestMeasureBits(t *testing.T) {
	bits, err := message.MeasureBits(&testMessage{Sequence: 42})
	require.NoError(t, err)
	require.Equal(t, 16, bits)
}

package connpacket_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable/pkg/bitstream"
	"github.com/ventosilenzioso/reliable/pkg/channel"
	"github.com/ventosilenzioso/reliable/pkg/connpacket"
	"github.com/ventosilenzioso/reliable/pkg/message"
)

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

func newFactory() *message.Factory {
	f := message.NewFactory()
	f.Register(1, func() message.Message { return &testMessage{} })
	return f
}

func TestEncodeDecodeMessagesRoundTrip(t *testing.T) {
	f := newFactory()
	lim := channel.Limits{MaxMessagesPerPacket: 16, NumMessageTypes: f.NumTypes(), MaxFragmentsPerBlock: 100, MaxLargeBlockSize: 1 << 20, BlockFragmentSize: 32}

	m1 := &testMessage{Sequence: 111}
	m1.SetID(5)
	m2 := &testMessage{Sequence: 222}
	m2.SetID(9)

	pkt := connpacket.Packet{
		Type:     connpacket.TypeData,
		Sequence: 42,
		Ack:      41,
		AckBits:  0xF0F0,
		Channels: []channel.Data{{HasMessages: true, Messages: []message.Message{m1, m2}}},
	}

	raw, err := connpacket.Encode(pkt, []channel.Limits{lim})
	require.NoError(t, err)

	out, err := connpacket.Decode(raw, []connpacket.ChannelSpec{{Factory: f, Limits: lim}})
	require.NoError(t, err)

	require.Equal(t, pkt.Sequence, out.Sequence)
	require.Equal(t, pkt.Ack, out.Ack)
	require.Equal(t, pkt.AckBits, out.AckBits)
	require.Len(t, out.Channels, 1)
	require.True(t, out.Channels[0].HasMessages)
	require.Len(t, out.Channels[0].Messages, 2)

	got1 := out.Channels[0].Messages[0].(*testMessage)
	got2 := out.Channels[0].Messages[1].(*testMessage)
	require.Equal(t, uint16(5), got1.ID())
	require.Equal(t, uint16(111), got1.Sequence)
	require.Equal(t, uint16(9), got2.ID())
	require.Equal(t, uint16(222), got2.Sequence)
}

func TestEncodeDecodeFragmentRoundTrip(t *testing.T) {
	f := newFactory()
	lim := channel.Limits{MaxMessagesPerPacket: 16, NumMessageTypes: f.NumTypes(), MaxFragmentsPerBlock: 100, MaxLargeBlockSize: 1 << 20, BlockFragmentSize: 32}

	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}
	pkt := connpacket.Packet{
		Sequence: 1,
		Channels: []channel.Data{{
			IsFragment:    true,
			BlockID:       7,
			NumFragments:  3,
			BlockSize:     90,
			FragmentIndex: 1,
			FragmentBytes: payload,
		}},
	}

	raw, err := connpacket.Encode(pkt, []channel.Limits{lim})
	require.NoError(t, err)

	out, err := connpacket.Decode(raw, []connpacket.ChannelSpec{{Factory: f, Limits: lim}})
	require.NoError(t, err)
	require.True(t, out.Channels[0].IsFragment)
	require.EqualValues(t, 7, out.Channels[0].BlockID)
	require.EqualValues(t, 3, out.Channels[0].NumFragments)
	require.EqualValues(t, 90, out.Channels[0].BlockSize)
	require.EqualValues(t, 1, out.Channels[0].FragmentIndex)
	require.Equal(t, payload, out.Channels[0].FragmentBytes)
}

func TestEncodeDecodeEmptyChannelRoundTrip(t *testing.T) {
	f := newFactory()
	lim := channel.Limits{MaxMessagesPerPacket: 16, NumMessageTypes: f.NumTypes(), MaxFragmentsPerBlock: 100, MaxLargeBlockSize: 1 << 20, BlockFragmentSize: 32}

	pkt := connpacket.Packet{Sequence: 3, Channels: []channel.Data{{}}}
	raw, err := connpacket.Encode(pkt, []channel.Limits{lim})
	require.NoError(t, err)

	out, err := connpacket.Decode(raw, []connpacket.ChannelSpec{{Factory: f, Limits: lim}})
	require.NoError(t, err)
	require.True(t, out.Channels[0].Empty())
}

func TestDecodeUnregisteredTypeErrors(t *testing.T) {
	f := message.NewFactory() // no type 1 registered
	lim := channel.Limits{MaxMessagesPerPacket: 16, NumMessageTypes: 2, MaxFragmentsPerBlock: 100, MaxLargeBlockSize: 1 << 20, BlockFragmentSize: 32}

	m1 := &testMessage{Sequence: 1}
	m1.SetID(0)
	pkt := connpacket.Packet{Channels: []channel.Data{{HasMessages: true, Messages: []message.Message{m1}}}}

	// Encode doesn't need the factory; decode with one that doesn't
	// register the message's type tag.
	raw, err := connpacket.Encode(pkt, []channel.Limits{lim})
	require.NoError(t, err)

	_, err = connpacket.Decode(raw, []connpacket.ChannelSpec{{Factory: f, Limits: lim}})
	require.Error(t, err)
}

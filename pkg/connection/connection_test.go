package connection_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable/pkg/bitstream"
	"github.com/ventosilenzioso/reliable/pkg/channel"
	"github.com/ventosilenzioso/reliable/pkg/connection"
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

func newConn(t *testing.T) *connection.Connection {
	t.Helper()
	structure := connection.NewChannelStructure()
	require.NoError(t, structure.AddChannel(func() *channel.Channel {
		f := message.NewFactory()
		f.Register(1, func() message.Message { return &testMessage{} })
		cfg := channel.DefaultConfig(f)
		cfg.SlidingWindowSize = 64
		return channel.New(cfg)
	}))
	structure.Lock()

	conn, err := connection.New(structure, 64, nil)
	require.NoError(t, err)
	return conn
}

func TestNewRejectsUnlockedStructure(t *testing.T) {
	structure := connection.NewChannelStructure()
	_, err := connection.New(structure, 64, nil)
	require.ErrorIs(t, err, connection.ErrStructureNotLocked)
}

func TestWritePacketReadPacketRoundTrip(t *testing.T) {
	a := newConn(t)
	b := newConn(t)

	require.True(t, a.Channel(0).SendMessage(&testMessage{Sequence: 123}))

	raw, err := a.WritePacket()
	require.NoError(t, err)
	require.NoError(t, b.ReadPacket(raw))

	m := b.Channel(0).ReceiveMessage()
	require.NotNil(t, m)
	require.Equal(t, uint16(123), m.(*testMessage).Sequence)
}

func TestDuplicatePacketSequenceDroppedBeforeChannels(t *testing.T) {
	a := newConn(t)
	b := newConn(t)

	require.True(t, a.Channel(0).SendMessage(&testMessage{Sequence: 1}))
	raw, err := a.WritePacket()
	require.NoError(t, err)

	require.NoError(t, b.ReadPacket(raw))
	require.NoError(t, b.ReadPacket(raw)) // duplicate delivery

	require.EqualValues(t, 1, b.Channel(0).Counters.MessagesReceived)
}

func TestAckFliesBackAndReleasesSendQueueSlot(t *testing.T) {
	a := newConn(t)
	b := newConn(t)

	require.True(t, a.Channel(0).SendMessage(&testMessage{Sequence: 1}))
	raw, err := a.WritePacket()
	require.NoError(t, err)
	require.NoError(t, b.ReadPacket(raw))

	// b's next outgoing packet carries the ack for a's packet 0.
	reply, err := b.WritePacket()
	require.NoError(t, err)
	require.NoError(t, a.ReadPacket(reply))

	require.True(t, a.Channel(0).CanSendMessage())

	// Past the resend rate, a released message is no longer selected.
	a.Update(1.0)
	require.True(t, a.Channel(0).GetData(100).Empty())
}

// TestUnreceivedPlaceholderAckDoesNotFalselyAckSentMessage covers the
// ordinary bidirectional startup case: both peers send before either has
// received anything from the other. If a's first packet is lost, b's
// reply still carries its "nothing received yet" placeholder ack header
// — that placeholder must not be decoded by a as "my packet 0 was
// acked," or a's message would be dropped from its send queue forever
// with no resend.
func TestUnreceivedPlaceholderAckDoesNotFalselyAckSentMessage(t *testing.T) {
	a := newConn(t)
	b := newConn(t)
	c := newConn(t)

	require.True(t, a.Channel(0).SendMessage(&testMessage{Sequence: 42}))
	_, err := a.WritePacket() // a's first packet; simulate it being lost in transit
	require.NoError(t, err)

	require.True(t, b.Channel(0).SendMessage(&testMessage{Sequence: 99}))
	replyFromB, err := b.WritePacket() // carries b's placeholder "nothing received" ack header
	require.NoError(t, err)

	require.NoError(t, a.ReadPacket(replyFromB))

	// Past the resend rate, a's message must still be in its send queue
	// and therefore go out again — it was never actually acknowledged.
	a.Update(1.0)
	resent, err := a.WritePacket()
	require.NoError(t, err)

	require.NoError(t, c.ReadPacket(resent))
	m := c.Channel(0).ReceiveMessage()
	require.NotNil(t, m)
	require.Equal(t, uint16(42), m.(*testMessage).Sequence)
}

func TestResetClearsConnectionState(t *testing.T) {
	a := newConn(t)
	require.True(t, a.Channel(0).SendMessage(&testMessage{Sequence: 1}))
	_, err := a.WritePacket()
	require.NoError(t, err)

	a.Reset()
	require.EqualValues(t, 0, a.Channel(0).Counters.MessagesSent)
}

// Package connection implements Connection (spec.md §4.3): one
// ChannelAckEngine plus N channels behind a locked ChannelStructure,
// driving WritePacket/ReadPacket/Update/Reset each tick.
package connection

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ventosilenzioso/reliable/pkg/ackengine"
	"github.com/ventosilenzioso/reliable/pkg/channel"
	"github.com/ventosilenzioso/reliable/pkg/connpacket"
	"github.com/ventosilenzioso/reliable/pkg/logging"
)

// ErrStructureNotLocked is returned by New when given a ChannelStructure
// still open for registration (spec.md §9: the structure must be
// immutable once a connection is built from it).
var ErrStructureNotLocked = errors.New("connection: channel structure must be locked before use")

// Connection owns one ack engine and one channel per entry in structure.
// Not safe for concurrent use; spec.md §5 assumes a single tick thread per
// connection, with any socket I/O happening on a separate thread behind a
// thread-safe send/receive queue.
type Connection struct {
	id  uuid.UUID
	log *logging.Logger

	structure         *ChannelStructure
	channels          []*channel.Channel
	slidingWindowSize int
	ack               *ackengine.Engine

	now float64
}

// New builds a Connection from a locked ChannelStructure. windowSize
// bounds both the ack engine's notified-set and should match every
// channel's own SlidingWindowSize.
func New(structure *ChannelStructure, windowSize int, log *logging.Logger) (*Connection, error) {
	if !structure.Locked() {
		return nil, ErrStructureNotLocked
	}
	if log == nil {
		log = logging.Nop()
	}

	channels := make([]*channel.Channel, structure.NumChannels())
	for i, factory := range structure.factories {
		channels[i] = factory()
	}

	return &Connection{
		id:                uuid.New(),
		log:               log,
		structure:         structure,
		channels:          channels,
		slidingWindowSize: windowSize,
		ack:               ackengine.New(windowSize),
	}, nil
}

// ID is a correlation identifier for logging only; it never touches the
// wire (spec.md §3 AMBIENT STACK).
func (c *Connection) ID() uuid.UUID { return c.id }

// Channel returns the i'th channel in registration order.
func (c *Connection) Channel(i int) *channel.Channel { return c.channels[i] }

// NumChannels returns the number of channels this connection drives.
func (c *Connection) NumChannels() int { return len(c.channels) }

// Update advances every channel's clock.
func (c *Connection) Update(now float64) {
	c.now = now
	for _, ch := range c.channels {
		ch.Update(now)
	}
}

// WritePacket asks every channel for its data for the next outgoing
// packet sequence, stamps the ACK header, and serializes the result.
func (c *Connection) WritePacket() ([]byte, error) {
	seq := c.ack.NextSendSequence()
	ack, ackBits := c.ack.AckHeader()

	data := make([]channel.Data, len(c.channels))
	limits := make([]channel.Limits, len(c.channels))
	for i, ch := range c.channels {
		data[i] = ch.GetData(seq)
		limits[i] = ch.Limits()
	}

	pkt := connpacket.Packet{
		Type:     connpacket.TypeData,
		Sequence: seq,
		Ack:      ack,
		AckBits:  ackBits,
		Channels: data,
	}
	raw, err := connpacket.Encode(pkt, limits)
	if err != nil {
		return nil, errors.Wrap(err, "connection: encode packet")
	}
	return raw, nil
}

// ReadPacket decodes and applies one incoming datagram. A malformed
// packet, a duplicate packet sequence, or any channel rejecting its
// payload is dropped and ReadPacket returns nil, never propagating a
// protocol violation as an error (spec.md §7). A channel that rejects its
// payload keeps its sticky error in GetError(). A packet that fails to
// decode (including one carrying an unregistered message type) is only
// logged: no channel's sticky error is set for it.
func (c *Connection) ReadPacket(raw []byte) error {
	specs := make([]connpacket.ChannelSpec, len(c.channels))
	for i, ch := range c.channels {
		specs[i] = connpacket.ChannelSpec{Factory: ch.Factory(), Limits: ch.Limits()}
	}

	pkt, err := connpacket.Decode(raw, specs)
	if err != nil {
		c.log.Debug("connection %s: dropping malformed packet: %v", c.id, err)
		return nil
	}

	// The received bitset updates before any per-channel ProcessData, so
	// a duplicate never reaches a channel (spec.md §4.3 ordering
	// guarantee).
	if c.ack.OnReceive(pkt.Sequence) {
		return nil
	}

	for i, ch := range c.channels {
		if !ch.ProcessData(pkt.Sequence, pkt.Channels[i]) {
			c.log.Warn("connection %s: channel %d rejected packet %d: %v", c.id, i, pkt.Sequence, ch.GetError())
			return nil
		}
	}

	// The acks this packet carries are processed only after every channel
	// accepted its data. The packet's own sequence was already recorded by
	// OnReceive above, so it is acked to the peer even if a channel
	// rejected it.
	for _, acked := range c.ack.NewlyAcked(pkt.Ack, pkt.AckBits) {
		for _, ch := range c.channels {
			ch.ProcessAck(acked)
		}
	}
	return nil
}

// Reset clears the ack engine and every channel's state, as on a fresh
// connection.
func (c *Connection) Reset() {
	c.ack = ackengine.New(c.slidingWindowSize)
	for _, ch := range c.channels {
		ch.Reset()
	}
}

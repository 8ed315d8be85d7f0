// Package connpacket implements ConnectionPacket (spec.md §6): the ACK
// header plus one payload per registered channel, serialized to and from
// a single bitstream shared across all channels in the packet.
package connpacket

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ventosilenzioso/reliable/pkg/bitstream"
	"github.com/ventosilenzioso/reliable/pkg/channel"
	"github.com/ventosilenzioso/reliable/pkg/message"
)

// NumPacketTypes bounds the packet_type wire field. This protocol only
// ever emits data packets; the bounded-int field is kept because spec.md
// §6 names it explicitly as part of the wire layout.
const NumPacketTypes = 1

// TypeData is the only packet type this protocol emits.
const TypeData uint16 = 0

// Packet is one ConnectionPacket: an ACK header plus each channel's
// selected Data for this tick, in channel-registration order.
type Packet struct {
	Type     uint16
	Sequence uint16
	Ack      uint16
	AckBits  uint32
	Channels []channel.Data
}

// ChannelSpec is what Decode needs per channel to reconstruct its
// payload: the message factory to resolve type tags against, and the
// size bounds that govern the bounded-int fields in its wire layout.
type ChannelSpec struct {
	Factory *message.Factory
	Limits  channel.Limits
}

// Encode serializes pkt. limits must have one entry per pkt.Channels
// entry, in the same order, matching each channel's configuration.
func Encode(pkt Packet, limits []channel.Limits) ([]byte, error) {
	if len(pkt.Channels) != len(limits) {
		return nil, fmt.Errorf("connpacket: %d channels but %d limits", len(pkt.Channels), len(limits))
	}
	w := bitstream.NewWriter(4096)
	w.WriteBoundedInt(int(pkt.Type), 0, NumPacketTypes-1)
	w.WriteUint16(pkt.Sequence)
	w.WriteUint16(pkt.Ack)
	w.WriteUint32(pkt.AckBits)

	for i, d := range pkt.Channels {
		if err := encodeChannelData(w, d, limits[i]); err != nil {
			return nil, errors.Wrapf(err, "channel %d", i)
		}
	}
	return w.Bytes(), nil
}

// Decode parses raw into a Packet. specs must have one entry per
// registered channel, in registration order. A message whose type tag
// isn't registered with that channel's factory, or a bitstream that runs
// out of data mid-packet, is reported as an error — the caller (the
// connection) treats this identically to a channel's ProcessData
// returning false: discard the whole packet.
func Decode(raw []byte, specs []ChannelSpec) (Packet, error) {
	r := bitstream.NewReader(raw)

	t, err := r.ReadBoundedInt(0, NumPacketTypes-1)
	if err != nil {
		return Packet{}, errors.Wrap(err, "connpacket: packet_type")
	}
	seq, err := r.ReadUint16()
	if err != nil {
		return Packet{}, errors.Wrap(err, "connpacket: sequence")
	}
	ack, err := r.ReadUint16()
	if err != nil {
		return Packet{}, errors.Wrap(err, "connpacket: ack")
	}
	ackBits, err := r.ReadUint32()
	if err != nil {
		return Packet{}, errors.Wrap(err, "connpacket: ack_bits")
	}

	channels := make([]channel.Data, len(specs))
	for i, spec := range specs {
		d, err := decodeChannelData(r, spec.Factory, spec.Limits)
		if err != nil {
			return Packet{}, errors.Wrapf(err, "channel %d", i)
		}
		channels[i] = d
	}

	return Packet{Type: uint16(t), Sequence: seq, Ack: ack, AckBits: ackBits, Channels: channels}, nil
}

// The wire format described in spec.md §6 gives ordinary-message mode and
// fragment mode each their own leading flag ("has_messages" / "is_fragment
// (mutually exclusive with has_messages)"). Since a channel is in exactly
// one mode at a time (GetData never returns both shapes at once), this
// implementation folds the two into a single hasData bit plus, only when
// set, an isFragment bit selecting which of the two layouts follows —
// the same information, one fewer always-present bit. See DESIGN.md.
func encodeChannelData(w *bitstream.Writer, d channel.Data, lim channel.Limits) error {
	if d.Empty() {
		w.WriteBool(false)
		return nil
	}
	w.WriteBool(true)
	w.WriteBool(d.IsFragment)
	if d.IsFragment {
		return encodeFragment(w, d, lim)
	}
	return encodeMessages(w, d, lim)
}

func decodeChannelData(r *bitstream.Reader, factory *message.Factory, lim channel.Limits) (channel.Data, error) {
	hasData, err := r.ReadBool()
	if err != nil {
		return channel.Data{}, err
	}
	if !hasData {
		return channel.Data{}, nil
	}
	isFragment, err := r.ReadBool()
	if err != nil {
		return channel.Data{}, err
	}
	if isFragment {
		return decodeFragment(r, lim)
	}
	return decodeMessages(r, factory, lim)
}

func encodeMessages(w *bitstream.Writer, d channel.Data, lim channel.Limits) error {
	n := len(d.Messages)
	if n == 0 || n > lim.MaxMessagesPerPacket {
		return fmt.Errorf("connpacket: %d messages out of range [1,%d]", n, lim.MaxMessagesPerPacket)
	}
	deltaBits := bitstream.BitsRequired(uint32(lim.MaxMessagesPerPacket))

	w.WriteBoundedInt(n, 1, lim.MaxMessagesPerPacket)
	first := d.Messages[0].ID()
	w.WriteUint16(first)

	prev := first
	for i, msg := range d.Messages {
		if i > 0 {
			delta := int(msg.ID() - prev)
			w.WriteBoundedInt(delta, 1, (1<<uint(deltaBits))-1)
			prev = msg.ID()
		}
		w.WriteBoundedInt(int(msg.Type()), 0, lim.NumMessageTypes-1)
		if err := msg.Serialize(w); err != nil {
			return fmt.Errorf("connpacket: serialize message %d: %w", msg.ID(), err)
		}
	}
	return nil
}

func decodeMessages(r *bitstream.Reader, factory *message.Factory, lim channel.Limits) (channel.Data, error) {
	deltaBits := bitstream.BitsRequired(uint32(lim.MaxMessagesPerPacket))

	n, err := r.ReadBoundedInt(1, lim.MaxMessagesPerPacket)
	if err != nil {
		return channel.Data{}, err
	}
	first, err := r.ReadUint16()
	if err != nil {
		return channel.Data{}, err
	}

	msgs := make([]message.Message, 0, n)
	id := first
	for i := 0; i < n; i++ {
		if i > 0 {
			delta, err := r.ReadBoundedInt(1, (1<<uint(deltaBits))-1)
			if err != nil {
				return channel.Data{}, err
			}
			id += uint16(delta)
		}
		typ, err := r.ReadBoundedInt(0, lim.NumMessageTypes-1)
		if err != nil {
			return channel.Data{}, err
		}
		msg, err := factory.Create(message.Type(typ))
		if err != nil {
			return channel.Data{}, err
		}
		if err := msg.Deserialize(r); err != nil {
			return channel.Data{}, fmt.Errorf("connpacket: deserialize message type %d: %w", typ, err)
		}
		msg.SetID(id)
		msgs = append(msgs, msg)
	}
	return channel.Data{HasMessages: true, Messages: msgs}, nil
}

func encodeFragment(w *bitstream.Writer, d channel.Data, lim channel.Limits) error {
	if d.NumFragments <= 0 || d.NumFragments > lim.MaxFragmentsPerBlock {
		return fmt.Errorf("connpacket: numFragments %d out of range [1,%d]", d.NumFragments, lim.MaxFragmentsPerBlock)
	}
	if d.BlockSize <= 0 || d.BlockSize > lim.MaxLargeBlockSize {
		return fmt.Errorf("connpacket: blockSize %d out of range [1,%d]", d.BlockSize, lim.MaxLargeBlockSize)
	}
	if d.FragmentIndex < 0 || d.FragmentIndex >= d.NumFragments {
		return fmt.Errorf("connpacket: fragmentIndex %d out of range [0,%d)", d.FragmentIndex, d.NumFragments)
	}

	w.WriteUint16(d.BlockID)
	w.WriteBoundedInt(d.NumFragments, 1, lim.MaxFragmentsPerBlock)
	w.WriteBoundedInt(d.BlockSize, 1, lim.MaxLargeBlockSize)
	w.WriteBoundedInt(d.FragmentIndex, 0, d.NumFragments-1)
	w.WriteBytes(d.FragmentBytes)
	return nil
}

func decodeFragment(r *bitstream.Reader, lim channel.Limits) (channel.Data, error) {
	blockID, err := r.ReadUint16()
	if err != nil {
		return channel.Data{}, err
	}
	numFragments, err := r.ReadBoundedInt(1, lim.MaxFragmentsPerBlock)
	if err != nil {
		return channel.Data{}, err
	}
	blockSize, err := r.ReadBoundedInt(1, lim.MaxLargeBlockSize)
	if err != nil {
		return channel.Data{}, err
	}
	fragmentIndex, err := r.ReadBoundedInt(0, numFragments-1)
	if err != nil {
		return channel.Data{}, err
	}

	length := lim.BlockFragmentSize
	if fragmentIndex == numFragments-1 {
		length = blockSize - fragmentIndex*lim.BlockFragmentSize
	}
	payload, err := r.ReadBytes(length)
	if err != nil {
		return channel.Data{}, err
	}

	return channel.Data{
		IsFragment:    true,
		BlockID:       blockID,
		NumFragments:  numFragments,
		BlockSize:     blockSize,
		FragmentIndex: fragmentIndex,
		FragmentBytes: payload,
	}, nil
}

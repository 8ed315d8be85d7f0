// Package message implements the application-payload objects a channel
// carries: a type-tagged interface plus a registry ("factory") that
// recreates a message from its wire type tag on receive.
//
// The original source shares messages by reference count across the send
// queue, the sent-packet ledger, and the outgoing serializer (see
// spec.md §5). This implementation follows the redesign spec.md §9
// recommends instead: the sent-packet ledger holds only message ids, not
// message references, and resolves them back against the send queue on
// ProcessAck — so each Message has exactly one owner at a time and
// no refcounting is needed. See DESIGN.md.
package message

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ventosilenzioso/reliable/pkg/bitstream"
)

// Type distinguishes message kinds on the wire. TypeBlock is reserved:
// every MessageFactory has it pre-registered to BlockMessage.
type Type = uint16

const TypeBlock Type = 0

// ErrUnregisteredType is returned, wrapped, by Create for a tag with no
// constructor. connpacket.Decode passes it up, and Connection.ReadPacket
// then drops the packet; it is not latched into any channel's sticky error.
var ErrUnregisteredType = errors.New("message: type not registered with factory")

// Message is the per-message contract a channel serializes and
// reassembles. Implementations must be safe to reuse across repeated
// Serialize calls (the channel may trial-serialize to measure size, then
// serialize again into the real packet).
type Message interface {
	Type() Type
	ID() uint16
	SetID(id uint16)
	Serialize(w *bitstream.Writer) error
	Deserialize(r *bitstream.Reader) error
}

// base is embedded by concrete message types to carry the id assigned by
// the channel on enqueue.
type base struct {
	id uint16
}

func (b *base) ID() uint16     { return b.id }
func (b *base) SetID(id uint16) { b.id = id }

// Factory creates messages by type tag, the polymorphism mechanism
// spec.md's MessageFactory calls for (minus the C++ vtable and refcount
// bookkeeping — see the package doc).
type Factory struct {
	ctors []func() Message
}

// NewFactory returns a factory with TypeBlock pre-registered.
func NewFactory() *Factory {
	f := &Factory{ctors: make([]func() Message, 1)}
	f.ctors[TypeBlock] = func() Message { return &BlockMessage{} }
	return f
}

// Register binds a type tag to a constructor. Tags must be assigned
// densely starting after TypeBlock; NumTypes() reports one past the
// highest registered tag, the bound the wire format's message_type field
// is serialized against.
func (f *Factory) Register(t Type, ctor func() Message) {
	for int(t) >= len(f.ctors) {
		f.ctors = append(f.ctors, nil)
	}
	f.ctors[t] = ctor
}

// NumTypes returns the exclusive upper bound for the message_type wire
// field: bounded int in [0, NumTypes()).
func (f *Factory) NumTypes() int { return len(f.ctors) }

// Create instantiates a message for the given type tag, or
// ErrUnregisteredType if the tag has no constructor.
func (f *Factory) Create(t Type) (Message, error) {
	if int(t) >= len(f.ctors) || f.ctors[t] == nil {
		return nil, errors.Wrapf(ErrUnregisteredType, "type %d", t)
	}
	return f.ctors[t](), nil
}

// MeasureBits trial-serializes msg into a scratch writer to learn its
// on-wire size without mutating any shared state, used by the channel's
// GetData budget accounting (spec.md §4.1 step 3).
func MeasureBits(msg Message) (int, error) {
	w := bitstream.NewWriter(256)
	if err := msg.Serialize(w); err != nil {
		return 0, fmt.Errorf("message: measure: %w", err)
	}
	return w.BitsWritten(), nil
}

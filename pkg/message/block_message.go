package message

import (
	"fmt"

	"github.com/ventosilenzioso/reliable/pkg/bitstream"
	"github.com/ventosilenzioso/reliable/pkg/block"
)

// MaxSmallBlockPayload bounds the length prefix used by BlockMessage's
// wire encoding; channel config enforces the tighter maxSmallBlockSize at
// the point a block is chosen to travel this way instead of fragmented.
const MaxSmallBlockPayload = 1 << 16

// BlockMessage carries a small block (size <= maxSmallBlockSize) as an
// ordinary channel message, and is also what a large block's fragments
// are reassembled into on the receive side (spec.md §4.1).
type BlockMessage struct {
	base
	Block *block.Block
}

func NewBlockMessage(b *block.Block) *BlockMessage {
	return &BlockMessage{Block: b}
}

func (m *BlockMessage) Type() Type { return TypeBlock }

func (m *BlockMessage) Serialize(w *bitstream.Writer) error {
	if m.Block == nil || m.Block.Size() >= MaxSmallBlockPayload {
		return fmt.Errorf("message: block message size out of range")
	}
	w.WriteUint16(uint16(m.Block.Size()))
	w.WriteBytes(m.Block.Data)
	return nil
}

func (m *BlockMessage) Deserialize(r *bitstream.Reader) error {
	size, err := r.ReadUint16()
	if err != nil {
		return err
	}
	data, err := r.ReadBytes(int(size))
	if err != nil {
		return err
	}
	m.Block = block.FromBytes(data)
	return nil
}

// Package channel implements the Reliable Message Channel (spec.md §4.1):
// ordinary message reliability via a send/receive queue pair and a
// sent-packet ledger, plus a one-block-in-flight large-block fragmentation
// scheme layered on top of the same ledger.
package channel

import (
	"fmt"

	"github.com/ventosilenzioso/reliable/pkg/bitstream"
	"github.com/ventosilenzioso/reliable/pkg/block"
	"github.com/ventosilenzioso/reliable/pkg/message"
	"github.com/ventosilenzioso/reliable/pkg/seqbuf"
	"github.com/ventosilenzioso/reliable/pkg/seqnum"
)

// sendSlot tracks one queued-but-unacked outgoing message.
type sendSlot struct {
	msg          message.Message
	timeLastSent float64 // -1 until first sent
	measuredBits int
}

// ledgerEntry records what a packet sequence carried for this channel, so
// ProcessAck can resolve an acked packet back to send-queue ids or a
// fragment index without keeping the message itself alive in the ledger.
type ledgerEntry struct {
	messageIDs    []uint16
	isFragment    bool
	blockID       uint16
	fragmentIndex int
}

// Counters are the channel's diagnostic totals (spec.md §7 testable
// properties reference these by name).
type Counters struct {
	MessagesSent        uint64
	MessagesReceived    uint64
	MessagesEarly       uint64
	MessagesLate        uint64
	LargeBlocksReceived uint64
	FragmentsSent       uint64
	FragmentsReceived   uint64
}

// Channel is one Reliable Message Channel instance. It is not safe for
// concurrent use; a Connection drives exactly one goroutine through it.
type Channel struct {
	cfg Config

	Counters Counters

	now float64
	err error

	nextSendID      uint16
	oldestUnackedID uint16
	sendQueue       *seqbuf.SequenceBuffer[*sendSlot]

	nextReceiveID uint16
	receiveQueue  *seqbuf.SequenceBuffer[message.Message]

	ledger *seqbuf.SequenceBuffer[ledgerEntry]

	// large-block send machine: at most one block in flight.
	sending                  bool
	sendBlockID              uint16
	sendBlock                *block.Block
	sendNumFragments         int
	sendNumAcked             int
	sendAckedFragments       []bool
	sendFragmentTimeLastSent []float64
	currentFragmentIndex     int

	// large-block receive machine.
	receiving             bool
	recvBlockID           uint16
	recvBlockSize         int
	recvNumFragments      int
	recvNumReceived       int
	recvReceivedFragments []bool
	recvBuffer            []byte
}

// New builds a Channel from cfg. cfg.Factory must be non-nil.
func New(cfg Config) *Channel {
	c := &Channel{cfg: cfg}
	c.reset()
	return c
}

func (c *Channel) reset() {
	c.now = 0
	c.err = nil
	c.Counters = Counters{}

	c.nextSendID = 0
	c.oldestUnackedID = 0
	c.sendQueue = seqbuf.New[*sendSlot](c.cfg.SendQueueSize)

	c.nextReceiveID = 0
	c.receiveQueue = seqbuf.New[message.Message](c.cfg.ReceiveQueueSize)

	c.ledger = seqbuf.New[ledgerEntry](c.cfg.SlidingWindowSize)

	c.sending = false
	c.sendBlockID = 0
	c.sendBlock = nil
	c.sendNumFragments = 0
	c.sendNumAcked = 0
	c.sendAckedFragments = nil
	c.sendFragmentTimeLastSent = nil
	c.currentFragmentIndex = 0

	c.receiving = false
	c.recvBlockID = 0
	c.recvBlockSize = 0
	c.recvNumFragments = 0
	c.recvNumReceived = 0
	c.recvReceivedFragments = nil
	c.recvBuffer = nil
}

// Reset restores the channel to its initial state, as on a fresh
// connection (spec.md §4.1).
func (c *Channel) Reset() { c.reset() }

// Factory returns the message factory this channel decodes received
// payloads with.
func (c *Channel) Factory() *message.Factory { return c.cfg.Factory }

// Limits exposes the wire-format bounds a packet codec needs to decode
// this channel's payload (message type range, fragment/block size bounds).
type Limits struct {
	MaxMessagesPerPacket int
	NumMessageTypes      int
	MaxFragmentsPerBlock int
	MaxLargeBlockSize    int
	BlockFragmentSize    int
}

func (c *Channel) Limits() Limits {
	return Limits{
		MaxMessagesPerPacket: c.cfg.MaxMessagesPerPacket,
		NumMessageTypes:      c.cfg.Factory.NumTypes(),
		MaxFragmentsPerBlock: c.cfg.MaxFragmentsPerBlock(),
		MaxLargeBlockSize:    c.cfg.MaxLargeBlockSize,
		BlockFragmentSize:    c.cfg.BlockFragmentSize,
	}
}

// GetError returns the sticky protocol-violation error, if any. Once set,
// GetData/ProcessData/SendMessage/SendBlock all refuse further work.
func (c *Channel) GetError() error { return c.err }

// SetError latches a protocol violation detected outside the channel (for
// example, a packet codec failing to decode this channel's payload).
func (c *Channel) SetError(err error) { c.setError(err) }

func (c *Channel) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Update advances the channel's notion of current time, used for resend
// gating. now is the connection's monotonic clock in seconds.
func (c *Channel) Update(now float64) { c.now = now }

// CanSendMessage reports whether SendMessage would succeed right now:
// no sticky error, no large block currently sending, and room in the
// send queue.
func (c *Channel) CanSendMessage() bool {
	if c.err != nil || c.sending {
		return false
	}
	// nextSendID shares its slot with the id one queue-length earlier; the
	// slot is free once that message has been acked.
	return !c.sendQueue.Exists(c.nextSendID - uint16(c.cfg.SendQueueSize))
}

// SendMessage enqueues msg for reliable delivery, assigning it the next
// message id. Returns false if the queue is full, a large block is in
// flight, or the channel has failed.
func (c *Channel) SendMessage(msg message.Message) bool {
	if !c.CanSendMessage() {
		return false
	}
	id := c.nextSendID
	msg.SetID(id)
	c.sendQueue.Insert(id, &sendSlot{msg: msg, timeLastSent: -1})
	c.nextSendID++
	c.Counters.MessagesSent++
	return true
}

// SendBlock enqueues b for reliable delivery. Blocks at or under
// MaxSmallBlockSize travel as an ordinary BlockMessage; larger blocks (up
// to MaxLargeBlockSize) are fragmented across many packets with at most
// one large block in flight per channel at a time (spec.md §4.1).
func (c *Channel) SendBlock(b *block.Block) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if b.Size() <= c.cfg.MaxSmallBlockSize {
		return c.SendMessage(message.NewBlockMessage(b)), nil
	}
	if b.Size() > c.cfg.MaxLargeBlockSize {
		return false, fmt.Errorf("channel: block size %d exceeds maxLargeBlockSize %d", b.Size(), c.cfg.MaxLargeBlockSize)
	}
	if c.sending || c.receiving {
		return false, nil
	}

	numFragments := ceilDiv(b.Size(), c.cfg.BlockFragmentSize)
	c.sending = true
	c.sendBlockID = c.nextSendID
	c.sendBlock = b
	c.sendNumFragments = numFragments
	c.sendNumAcked = 0
	c.sendAckedFragments = make([]bool, numFragments)
	c.sendFragmentTimeLastSent = make([]float64, numFragments)
	for i := range c.sendFragmentTimeLastSent {
		c.sendFragmentTimeLastSent[i] = -1
	}
	c.currentFragmentIndex = 0
	c.nextSendID++
	c.Counters.MessagesSent++
	return true, nil
}

// ReceiveMessage dequeues the next message in id order, or nil if the
// message at nextReceiveID hasn't arrived yet.
func (c *Channel) ReceiveMessage() message.Message {
	msg, ok := c.receiveQueue.Find(c.nextReceiveID)
	if !ok {
		return nil
	}
	c.receiveQueue.Remove(c.nextReceiveID)
	c.nextReceiveID++
	return msg
}

// GetData selects what this channel should carry in the packet with the
// given outgoing sequence: either a batch of ordinary messages, or (while
// a large block is sending) the next due fragment. Returns a zero Data if
// there is nothing to send this tick.
func (c *Channel) GetData(packetSeq uint16) Data {
	if c.err != nil {
		return Data{}
	}
	if c.sending {
		return c.getFragmentData(packetSeq)
	}
	return c.getMessageData(packetSeq)
}

func (c *Channel) resendRateSeconds() float64 {
	return c.cfg.ResendRate.Seconds()
}

func (c *Channel) getMessageData(packetSeq uint16) Data {
	typeBits := bitstream.BitsRequired(uint32(c.cfg.Factory.NumTypes() - 1))
	deltaBits := bitstream.BitsRequired(uint32(c.cfg.MaxMessagesPerPacket))
	headerBits := 1 + bitstream.BitsRequired(uint32(c.cfg.MaxMessagesPerPacket-1)) + 16
	availableBits := c.cfg.PacketBudget*8 - headerBits

	var ids []uint16
	var msgs []message.Message

	id := c.oldestUnackedID
	scanned := 0
	for id != c.nextSendID && scanned < c.cfg.MaxMessagesPerPacket {
		scanned++
		slot, ok := c.sendQueue.Find(id)
		if !ok {
			id++
			continue
		}
		if slot.timeLastSent >= 0 && c.now-slot.timeLastSent < c.resendRateSeconds() {
			id++
			continue
		}
		if slot.measuredBits == 0 {
			bits, err := message.MeasureBits(slot.msg)
			if err != nil {
				id++
				continue
			}
			slot.measuredBits = bits
		}

		overhead := typeBits
		if len(ids) > 0 {
			overhead += deltaBits
		}
		need := slot.measuredBits + overhead
		if need > availableBits {
			break
		}
		availableBits -= need

		ids = append(ids, id)
		msgs = append(msgs, slot.msg)
		slot.timeLastSent = c.now
		id++
	}

	if len(ids) == 0 {
		return Data{}
	}
	c.ledger.Insert(packetSeq, ledgerEntry{messageIDs: ids})
	return Data{HasMessages: true, Messages: msgs}
}

func (c *Channel) getFragmentData(packetSeq uint16) Data {
	for i := 0; i < c.sendNumFragments; i++ {
		candidate := (c.currentFragmentIndex + i) % c.sendNumFragments
		if c.sendAckedFragments[candidate] {
			continue
		}
		lastSent := c.sendFragmentTimeLastSent[candidate]
		if lastSent >= 0 && c.now-lastSent < c.resendRateSeconds() {
			continue
		}

		start := candidate * c.cfg.BlockFragmentSize
		end := start + c.cfg.BlockFragmentSize
		if end > c.sendBlock.Size() {
			end = c.sendBlock.Size()
		}
		payload := c.sendBlock.Data[start:end]

		c.sendFragmentTimeLastSent[candidate] = c.now
		c.currentFragmentIndex = (candidate + 1) % c.sendNumFragments
		c.ledger.Insert(packetSeq, ledgerEntry{isFragment: true, blockID: c.sendBlockID, fragmentIndex: candidate})
		c.Counters.FragmentsSent++

		return Data{
			IsFragment:    true,
			BlockID:       c.sendBlockID,
			NumFragments:  c.sendNumFragments,
			BlockSize:     c.sendBlock.Size(),
			FragmentIndex: candidate,
			FragmentBytes: payload,
		}
	}
	return Data{}
}

// ProcessData consumes a decoded channel payload received on packetSeq.
// Returns false (and latches a sticky error) on a protocol violation a
// well-formed decode can't catch: an out-of-range fragment index, or a
// fragment whose declared blockSize/numFragments/payload length are
// mutually inconsistent.
func (c *Channel) ProcessData(packetSeq uint16, d Data) bool {
	if c.err != nil {
		return false
	}
	if d.IsFragment {
		return c.processFragmentData(d)
	}
	c.processMessageData(d)
	return true
}

func (c *Channel) processMessageData(d Data) {
	for _, msg := range d.Messages {
		id := msg.ID()
		switch {
		case seqnum.InWindow(id, c.nextReceiveID, c.cfg.ReceiveQueueSize):
			if !c.receiveQueue.Exists(id) {
				c.receiveQueue.Insert(id, msg)
				c.Counters.MessagesReceived++
			}
		case seqnum.LessThan(id, c.nextReceiveID):
			c.Counters.MessagesLate++
		default:
			// Beyond the receive window: dropped, counted as early.
			c.Counters.MessagesEarly++
		}
	}
}

func (c *Channel) processFragmentData(d Data) bool {
	if d.NumFragments <= 0 || d.FragmentIndex < 0 || d.FragmentIndex >= d.NumFragments {
		c.setError(fmt.Errorf("channel: fragment index %d out of range [0,%d)", d.FragmentIndex, d.NumFragments))
		return false
	}
	if d.BlockSize <= 0 || d.BlockSize > c.cfg.MaxLargeBlockSize {
		c.setError(fmt.Errorf("channel: fragment blockSize %d out of range", d.BlockSize))
		return false
	}
	if ceilDiv(d.BlockSize, c.cfg.BlockFragmentSize) != d.NumFragments {
		c.setError(fmt.Errorf("channel: fragment numFragments %d inconsistent with blockSize %d", d.NumFragments, d.BlockSize))
		return false
	}
	expectedLen := c.cfg.BlockFragmentSize
	if d.FragmentIndex == d.NumFragments-1 {
		expectedLen = d.BlockSize - d.FragmentIndex*c.cfg.BlockFragmentSize
	}
	if len(d.FragmentBytes) != expectedLen {
		c.setError(fmt.Errorf("channel: fragment payload length %d != expected %d", len(d.FragmentBytes), expectedLen))
		return false
	}

	switch {
	case !c.receiving || seqnum.GreaterThan(d.BlockID, c.recvBlockID):
		c.receiving = true
		c.recvBlockID = d.BlockID
		c.recvBlockSize = d.BlockSize
		c.recvNumFragments = d.NumFragments
		c.recvNumReceived = 0
		c.recvReceivedFragments = make([]bool, d.NumFragments)
		c.recvBuffer = make([]byte, d.BlockSize)
	case seqnum.LessThan(d.BlockID, c.recvBlockID):
		return true // stale retransmit of a superseded block, drop
	}

	if !c.recvReceivedFragments[d.FragmentIndex] {
		start := d.FragmentIndex * c.cfg.BlockFragmentSize
		copy(c.recvBuffer[start:], d.FragmentBytes)
		c.recvReceivedFragments[d.FragmentIndex] = true
		c.recvNumReceived++
		c.Counters.FragmentsReceived++
	}

	if c.recvNumReceived == c.recvNumFragments {
		bm := message.NewBlockMessage(block.FromBytes(c.recvBuffer))
		bm.SetID(c.recvBlockID)
		if seqnum.InWindow(c.recvBlockID, c.nextReceiveID, c.cfg.ReceiveQueueSize) && !c.receiveQueue.Exists(c.recvBlockID) {
			c.receiveQueue.Insert(c.recvBlockID, bm)
			c.Counters.MessagesReceived++
			c.Counters.LargeBlocksReceived++
		}
		c.receiving = false
		c.recvBuffer = nil
		c.recvReceivedFragments = nil
	}
	return true
}

// ProcessAck tells the channel that packetSeq was acknowledged by the
// peer, releasing whatever send-side state that packet's ledger entry
// refers to. Safe to call more than once for the same packetSeq (the
// second call finds no ledger entry and is a no-op), which is what makes
// it idempotent under the ack-engine's own at-most-once delivery.
func (c *Channel) ProcessAck(packetSeq uint16) {
	entry, ok := c.ledger.Find(packetSeq)
	if !ok {
		return
	}
	c.ledger.Remove(packetSeq)

	if entry.isFragment {
		c.ackFragment(entry)
		return
	}
	c.ackMessages(entry.messageIDs)
}

func (c *Channel) ackFragment(entry ledgerEntry) {
	if !c.sending || entry.blockID != c.sendBlockID {
		return
	}
	if entry.fragmentIndex < 0 || entry.fragmentIndex >= len(c.sendAckedFragments) {
		return
	}
	if c.sendAckedFragments[entry.fragmentIndex] {
		return
	}
	c.sendAckedFragments[entry.fragmentIndex] = true
	c.sendNumAcked++
	if c.sendNumAcked == c.sendNumFragments {
		c.sending = false
		c.sendBlock = nil
		c.sendAckedFragments = nil
		c.sendFragmentTimeLastSent = nil
	}
}

func (c *Channel) ackMessages(ids []uint16) {
	for _, id := range ids {
		if !c.sendQueue.Exists(id) {
			continue
		}
		c.sendQueue.Remove(id)
		if id == c.oldestUnackedID {
			for c.oldestUnackedID != c.nextSendID && !c.sendQueue.Exists(c.oldestUnackedID) {
				c.oldestUnackedID++
			}
		}
	}
}

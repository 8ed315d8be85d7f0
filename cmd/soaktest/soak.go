package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ventosilenzioso/reliable/internal/netsim"
	"github.com/ventosilenzioso/reliable/pkg/block"
	"github.com/ventosilenzioso/reliable/pkg/channel"
	"github.com/ventosilenzioso/reliable/pkg/connection"
	"github.com/ventosilenzioso/reliable/pkg/logging"
	"github.com/ventosilenzioso/reliable/pkg/message"
)

const slidingWindowSize = 1024

// newSoakConnection builds a single-channel connection whose packetBudget
// is derived from mtu via connection.MaxChannelBudget — the same
// MTU-minus-header-minus-margin sizing a real deployment would use —
// rather than DefaultConfig's hardcoded constant.
func newSoakConnection(log *logging.Logger, mtu int) (*connection.Connection, error) {
	structure := connection.NewChannelStructure()
	err := structure.AddChannel(func() *channel.Channel {
		cfg := channel.DefaultConfig(newTestMessageFactory())
		cfg.SlidingWindowSize = slidingWindowSize
		cfg.PacketBudget = connection.MaxChannelBudget(mtu, 1)
		return channel.New(cfg)
	})
	if err != nil {
		return nil, err
	}
	structure.Lock()
	return connection.New(structure, slidingWindowSize, log)
}

// runSoak reproduces original_source/tests/SoakTest.cpp's scenario: one
// connection (a) randomly sends bitpacked messages (50%), small blocks
// (~50%), and large blocks (~0.01%), the other (b) receives, both peers
// run under a/b simulated lossy links, and every tick the three counter
// invariants and byte-exact block reconstruction are checked (spec.md §8
// scenario 6).
func runSoak(ctx context.Context, cfg Config, log *logging.Logger) error {
	a, err := newSoakConnection(log.With("peer", "a"), cfg.MTU)
	if err != nil {
		return fmt.Errorf("soaktest: build connection a: %w", err)
	}
	b, err := newSoakConnection(log.With("peer", "b"), cfg.MTU)
	if err != nil {
		return fmt.Errorf("soaktest: build connection b: %w", err)
	}

	state := netsim.State{PacketLoss: cfg.PacketLoss, Latency: cfg.Latency.Seconds(), Jitter: cfg.Jitter.Seconds()}
	linkAB := netsim.New(cfg.Seed)
	linkAB.AddState(state)
	linkBA := netsim.New(cfg.Seed + 1)
	linkBA.AddState(state)

	rng := rand.New(rand.NewSource(cfg.Seed + 2))

	var deadline time.Time
	if cfg.Duration > 0 {
		deadline = time.Now().Add(cfg.Duration)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return soakLoop(ctx, a, b, linkAB, linkBA, rng, deadline, log)
	})
	return g.Wait()
}

func soakLoop(ctx context.Context, a, b *connection.Connection, linkAB, linkBA *netsim.Simulator, rng *rand.Rand, deadline time.Time, log *logging.Logger) error {
	var sendMessageID uint16
	var numSent, numReceived uint64

	for tick := 0; ; tick++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}

		now := float64(tick) * 0.01
		a.Update(now)
		b.Update(now)

		aChannel := a.Channel(0)
		maxToSend := 1 + rng.Intn(32)
		for i := 0; i < maxToSend && aChannel.CanSendMessage(); i++ {
			if err := sendNext(aChannel, &sendMessageID, rng); err != nil {
				return err
			}
			numSent++
		}

		raw, err := a.WritePacket()
		if err != nil {
			return fmt.Errorf("soaktest: write packet: %w", err)
		}
		linkAB.Send(now, raw, 0)
		for _, pkt := range linkAB.Deliverable(now) {
			if err := b.ReadPacket(pkt); err != nil {
				return fmt.Errorf("soaktest: read packet on b: %w", err)
			}
		}

		reply, err := b.WritePacket()
		if err != nil {
			return fmt.Errorf("soaktest: write reply: %w", err)
		}
		linkBA.Send(now, reply, 0)
		for _, pkt := range linkBA.Deliverable(now) {
			if err := a.ReadPacket(pkt); err != nil {
				return fmt.Errorf("soaktest: read reply on a: %w", err)
			}
		}

		bChannel := b.Channel(0)
		for {
			m := bChannel.ReceiveMessage()
			if m == nil {
				break
			}
			if err := verifyReceived(m, numReceived); err != nil {
				return err
			}
			numReceived++
		}

		if aChannel.Counters.MessagesSent < bChannel.Counters.MessagesReceived {
			return fmt.Errorf("soaktest: MESSAGES_SENT (%d) < MESSAGES_RECEIVED (%d) at tick %d", aChannel.Counters.MessagesSent, bChannel.Counters.MessagesReceived, tick)
		}
		if bChannel.Counters.MessagesEarly != 0 {
			return fmt.Errorf("soaktest: MESSAGES_EARLY == %d at tick %d, expected 0", bChannel.Counters.MessagesEarly, tick)
		}

		if tick%500 == 0 {
			log.Info("tick=%d sent=%d received=%d pendingAB=%d pendingBA=%d", tick, numSent, numReceived, linkAB.Pending(), linkBA.Pending())
		}
	}
}

func sendNext(ch *channel.Channel, sendMessageID *uint16, rng *rand.Rand) error {
	value := rng.Intn(10000)
	id := *sendMessageID
	switch {
	case value < 5000:
		ch.SendMessage(&TestMessage{Sequence: id})
	case value < 9999:
		index := int(id) % 32
		blk, err := block.New(index + 1)
		if err != nil {
			return err
		}
		for i := range blk.Data {
			blk.Data[i] = byte((index + i) % 256)
		}
		if _, err := ch.SendBlock(blk); err != nil {
			return fmt.Errorf("soaktest: send small block: %w", err)
		}
	default:
		index := int(id) % 4
		blk, err := block.New((index+1)*1024*1000 + index)
		if err != nil {
			return err
		}
		for i := range blk.Data {
			blk.Data[i] = byte((index + i) % 256)
		}
		if _, err := ch.SendBlock(blk); err != nil {
			return fmt.Errorf("soaktest: send large block: %w", err)
		}
	}
	*sendMessageID++
	return nil
}

func verifyReceived(m message.Message, expected uint64) error {
	wantID := uint16(expected % 65536)
	if m.ID() != wantID {
		return fmt.Errorf("soaktest: received id %d, want %d", m.ID(), wantID)
	}

	bm, ok := m.(*message.BlockMessage)
	if !ok {
		_, ok := m.(*TestMessage)
		if !ok {
			return fmt.Errorf("soaktest: unexpected message type %T", m)
		}
		return nil
	}

	smallIndex := int(expected) % 32
	if bm.Block.Size() == smallIndex+1 {
		for i := 0; i < bm.Block.Size(); i++ {
			if bm.Block.Data[i] != byte((smallIndex+i)%256) {
				return fmt.Errorf("soaktest: small block byte %d mismatch", i)
			}
		}
		return nil
	}

	largeIndex := int(expected) % 4
	wantSize := (largeIndex+1)*1024*1000 + largeIndex
	if bm.Block.Size() != wantSize {
		return fmt.Errorf("soaktest: block size %d matches neither small-block nor large-block expectation", bm.Block.Size())
	}
	for i := 0; i < bm.Block.Size(); i++ {
		if bm.Block.Data[i] != byte((largeIndex+i)%256) {
			return fmt.Errorf("soaktest: large block byte %d mismatch", i)
		}
	}
	return nil
}

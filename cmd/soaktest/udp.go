package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ventosilenzioso/reliable/pkg/logging"
	"github.com/ventosilenzioso/reliable/pkg/socket"
)

// runUDPDemo is the real-transport counterpart to runSoak: instead of
// relaying packets in-process through internal/netsim, it binds two
// pkg/socket.Sockets on loopback and exchanges ConnectionPackets as real
// UDP datagrams, ticked independently on each socket's own timer. There
// is no induced loss on loopback, so this exercises the socket/transport
// wiring rather than the reliability properties runSoak checks.
func runUDPDemo(ctx context.Context, cfg Config, log *logging.Logger) error {
	aConn, err := newSoakConnection(log.With("peer", "a"), cfg.MTU)
	if err != nil {
		return fmt.Errorf("udp-demo: build connection a: %w", err)
	}
	bConn, err := newSoakConnection(log.With("peer", "b"), cfg.MTU)
	if err != nil {
		return fmt.Errorf("udp-demo: build connection b: %w", err)
	}

	aSock, err := socket.Listen(socket.Config{Host: "127.0.0.1", Port: 0, TickPeriod: 10 * time.Millisecond}, log.With("socket", "a"))
	if err != nil {
		return fmt.Errorf("udp-demo: listen a: %w", err)
	}
	defer aSock.Close()

	bSock, err := socket.Listen(socket.Config{Host: "127.0.0.1", Port: 0, TickPeriod: 10 * time.Millisecond}, log.With("socket", "b"))
	if err != nil {
		return fmt.Errorf("udp-demo: listen b: %w", err)
	}
	defer bSock.Close()

	aAddr := aSock.LocalAddr().(*net.UDPAddr)
	bAddr := bSock.LocalAddr().(*net.UDPAddr)

	var sendMessageID uint16
	rng := rand.New(rand.NewSource(cfg.Seed))

	aHandler := func(in socket.Inbound) {
		if err := aConn.ReadPacket(in.Data); err != nil {
			log.Warn("udp-demo: a read packet: %v", err)
		}
	}
	bHandler := func(in socket.Inbound) {
		if err := bConn.ReadPacket(in.Data); err != nil {
			log.Warn("udp-demo: b read packet: %v", err)
		}
	}

	aTick := func(now float64) {
		aConn.Update(now)
		ch := aConn.Channel(0)
		if ch.CanSendMessage() {
			if err := sendNext(ch, &sendMessageID, rng); err != nil {
				log.Warn("udp-demo: send: %v", err)
			}
		}
		raw, err := aConn.WritePacket()
		if err != nil {
			log.Warn("udp-demo: write packet: %v", err)
			return
		}
		if err := aSock.SendTo(raw, bAddr); err != nil {
			log.Warn("udp-demo: send to b: %v", err)
		}
	}
	bTick := func(now float64) {
		bConn.Update(now)
		for {
			m := bConn.Channel(0).ReceiveMessage()
			if m == nil {
				break
			}
			log.Debug("udp-demo: b received message id=%d", m.ID())
		}
		raw, err := bConn.WritePacket()
		if err != nil {
			log.Warn("udp-demo: b write packet: %v", err)
			return
		}
		if err := bSock.SendTo(raw, aAddr); err != nil {
			log.Warn("udp-demo: send to a: %v", err)
		}
	}

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return aSock.Run(ctx, aHandler, aTick) })
	g.Go(func() error { return bSock.Run(ctx, bHandler, bTick) })

	err = g.Wait()
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

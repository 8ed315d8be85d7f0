// Package socket is a thin UDP datagram wrapper: bind, receive loop
// dispatching to a handler goroutine per datagram, and a ticker-driven
// Update callback — the same shape as the teacher's Server.Start/listen/
// updateLoop, stripped of all SA-MP session/game-packet handling (spec.md
// §5 treats the raw socket as an out-of-scope external collaborator
// exposing a thread-safe send/receive queue pair to the protocol core).
package socket

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ventosilenzioso/reliable/pkg/logging"
)

// Inbound is one received datagram.
type Inbound struct {
	Data []byte
	Addr *net.UDPAddr
}

// Handler processes one inbound datagram. It runs in its own goroutine
// per datagram, mirroring the teacher's `go s.raknet.HandlePacket(...)`.
type Handler func(Inbound)

// Socket wraps a bound UDP connection plus a tick loop.
type Socket struct {
	conn       *net.UDPConn
	log        *logging.Logger
	handler    Handler
	tickPeriod time.Duration
	onTick     func(now float64)

	startedAt time.Time
}

// Config bundles the bind address and tick parameters.
type Config struct {
	Host       string
	Port       int
	TickPeriod time.Duration
}

// Listen binds a UDP socket at cfg.Host:cfg.Port.
func Listen(cfg Config, log *logging.Logger) (*Socket, error) {
	if log == nil {
		log = logging.Nop()
	}
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("socket: bind %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	period := cfg.TickPeriod
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	return &Socket{conn: conn, log: log, tickPeriod: period}, nil
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// SendTo writes data to addr.
func (s *Socket) SendTo(data []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// Run reads datagrams and dispatches them to handler, and invokes onTick
// on every tick boundary with seconds elapsed since Run started, until
// ctx is canceled. Mirrors the teacher's listen()+updateLoop() pair
// running concurrently off one socket.
func (s *Socket) Run(ctx context.Context, handler Handler, onTick func(now float64)) error {
	s.handler = handler
	s.onTick = onTick
	s.startedAt = time.Now()

	errCh := make(chan error, 1)
	go func() { errCh <- s.listen(ctx) }()

	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.conn.Close()
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			if s.onTick != nil {
				s.onTick(time.Since(s.startedAt).Seconds())
			}
		}
	}
}

func (s *Socket) listen(ctx context.Context) error {
	buf := make([]byte, 65507)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("socket: read error: %v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if s.handler != nil {
			go s.handler(Inbound{Data: data, Addr: addr})
		}
	}
}

// Close releases the underlying UDP socket.
func (s *Socket) Close() error { return s.conn.Close() }

package socket_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable/pkg/socket"
)

func TestListenAndSendToRoundTrip(t *testing.T) {
	sock, err := socket.Listen(socket.Config{Host: "127.0.0.1", Port: 0, TickPeriod: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer sock.Close()

	received := make(chan socket.Inbound, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go sock.Run(ctx, func(in socket.Inbound) { received <- in }, nil)

	conn, err := net.DialUDP("udp", nil, sock.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case in := <-received:
		require.Equal(t, []byte("hello"), in.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestRunInvokesOnTick(t *testing.T) {
	sock, err := socket.Listen(socket.Config{Host: "127.0.0.1", Port: 0, TickPeriod: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer sock.Close()

	ticks := make(chan float64, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = sock.Run(ctx, func(socket.Inbound) {}, func(now float64) {
		select {
		case ticks <- now:
		default:
		}
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, ticks)
}

package channel

import (
	"time"

	"github.com/ventosilenzioso/reliable/pkg/message"
)

// Config holds the per-channel tunables named in spec.md §6. Defaults
// mirror the original source's SoakTest.cpp TestChannelStructure.
type Config struct {
	MaxMessagesPerPacket int
	SendQueueSize        int
	ReceiveQueueSize     int
	PacketBudget         int // bytes
	MaxMessageSize       int
	BlockFragmentSize    int
	MaxSmallBlockSize    int
	MaxLargeBlockSize    int
	ResendRate           time.Duration
	SlidingWindowSize    int

	Factory *message.Factory
}

// DefaultConfig returns the configuration the original soak test used,
// with MaxSmallBlockSize defaulted to BlockFragmentSize per spec.md §6.
func DefaultConfig(factory *message.Factory) Config {
	cfg := Config{
		MaxMessagesPerPacket: 256,
		SendQueueSize:        2048,
		ReceiveQueueSize:     512,
		PacketBudget:         4000,
		MaxMessageSize:       1024,
		BlockFragmentSize:    3900,
		MaxLargeBlockSize:    32 * 1024 * 1024,
		ResendRate:           100 * time.Millisecond,
		SlidingWindowSize:    1024,
		Factory:              factory,
	}
	cfg.MaxSmallBlockSize = cfg.BlockFragmentSize
	return cfg
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// MaxFragmentsPerBlock is the largest fragment count a block of
// MaxLargeBlockSize can require.
func (c Config) MaxFragmentsPerBlock() int {
	return ceilDiv(c.MaxLargeBlockSize, c.BlockFragmentSize)
}

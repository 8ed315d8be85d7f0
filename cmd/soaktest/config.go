package main

import "time"

// Config holds the soak scenario's tunables. Defaults mirror the middle
// of original_source/tests/SoakTest.cpp's NetworkSimulator staged
// profile; SOAK_*-prefixed environment variables override them, and CLI
// flags (when explicitly passed) override the environment in turn.
type Config struct {
	PacketLoss float64       `env:"SOAK_PACKET_LOSS,default=0.1"`
	Latency    time.Duration `env:"SOAK_LATENCY,default=200ms"`
	Jitter     time.Duration `env:"SOAK_JITTER,default=20ms"`
	Duration   time.Duration `env:"SOAK_DURATION,default=0"` // 0 = run until canceled
	Seed       int64         `env:"SOAK_SEED,default=1"`

	// MTU derives each channel's packetBudget via connection.MaxChannelBudget,
	// the way a real deployment would size it off the path MTU rather than
	// a hardcoded constant.
	MTU int `env:"SOAK_MTU,default=576"`
}

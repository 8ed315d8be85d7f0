package connection

import (
	"github.com/pkg/errors"

	"github.com/ventosilenzioso/reliable/pkg/channel"
)

// ChannelFactory builds one channel instance; Connection calls it once per
// registered channel at construction time.
type ChannelFactory func() *channel.Channel

// ErrStructureLocked is returned by AddChannel once the structure has been
// locked.
var ErrStructureLocked = errors.New("connection: channel structure is locked")

// ChannelStructure is the ordered, immutable-once-locked registry of
// channel factories both peers must agree on (spec.md §4.3, §9). It is a
// builder while unlocked; New refuses a structure that has not been locked.
type ChannelStructure struct {
	factories []ChannelFactory
	locked    bool
}

// NewChannelStructure returns an empty, unlocked structure.
func NewChannelStructure() *ChannelStructure {
	return &ChannelStructure{}
}

// AddChannel registers one more channel, in order. Fails once the
// structure is locked.
func (s *ChannelStructure) AddChannel(factory ChannelFactory) error {
	if s.locked {
		return ErrStructureLocked
	}
	s.factories = append(s.factories, factory)
	return nil
}

// Lock freezes the structure; subsequent AddChannel calls fail.
func (s *ChannelStructure) Lock() { s.locked = true }

// Locked reports whether Lock has been called.
func (s *ChannelStructure) Locked() bool { return s.locked }

// NumChannels returns the number of registered channels.
func (s *ChannelStructure) NumChannels() int { return len(s.factories) }

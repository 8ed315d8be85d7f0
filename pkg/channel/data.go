package channel

import "github.com/ventosilenzioso/reliable/pkg/message"

// Data is what GetData selects to go out in one packet's slot for this
// channel, and what ProcessData consumes after the wire format has been
// decoded (spec.md §4.1, §6). A channel payload is either zero or more
// ordinary messages, or exactly one large-block fragment; never both.
type Data struct {
	HasMessages bool
	Messages    []message.Message

	IsFragment    bool
	BlockID       uint16
	NumFragments  int
	BlockSize     int
	FragmentIndex int
	FragmentBytes []byte
}

// Empty reports whether this Data carries nothing to send this tick.
func (d Data) Empty() bool {
	return !d.HasMessages && !d.IsFragment
}

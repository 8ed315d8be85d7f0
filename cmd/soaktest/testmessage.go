package main

import (
	"github.com/ventosilenzioso/reliable/pkg/bitstream"
	"github.com/ventosilenzioso/reliable/pkg/message"
)

// testMessageType is the soak scenario's bitpacked message type, grounded
// on original_source/tests/SoakTest.cpp's TestMessage (a single u16
// sequence field).
const testMessageType message.Type = 1

// TestMessage mirrors SoakTest.cpp's TestMessage: one bitpacked sequence
// field, used for the "value < 5000" branch of the scenario.
type TestMessage struct {
	Sequence uint16
	id       uint16
}

func (m *TestMessage) Type() message.Type { return testMessageType }
func (m *TestMessage) ID() uint16         { return m.id }
func (m *TestMessage) SetID(id uint16)    { m.id = id }

func (m *TestMessage) Serialize(w *bitstream.Writer) error {
	w.WriteUint16(m.Sequence)
	return nil
}

func (m *TestMessage) Deserialize(r *bitstream.Reader) error {
	v, err := r.ReadUint16()
	if err != nil {
		return err
	}
	m.Sequence = v
	return nil
}

func newTestMessageFactory() *message.Factory {
	f := message.NewFactory()
	f.Register(testMessageType, func() message.Message { return &TestMessage{} })
	return f
}

package mailbox

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/vabridge/pkg/payload"
)

// Message is the envelope copied into the shared region.
type Message struct {
	// ClientID is the receive callback slot addressed at the destination.
	ClientID uint8 `msgpack:"c"`

	// IntrMask is the notification mask of the sending endpoint.
	IntrMask uint16 `msgpack:"m"`

	// Payload is the detection payload, copied as one unit.
	Payload payload.DetectionPayload `msgpack:"p"`
}

// MaxMessageSize bounds the encoded size of any valid Message.
const MaxMessageSize = payload.MaxEncodedSize + 32

// EncodeMessage validates and serialises m.
func EncodeMessage(m *Message) ([]byte, error) {
	if err := m.Payload.Validate(); err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("mailbox: encode message: %w", err)
	}
	return b, nil
}

// DecodeMessage parses b. The returned message is only meaningful when err is
// nil; a payload that fails validation is rejected as a whole.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("mailbox: decode message: %w", err)
	}
	if err := m.Payload.Validate(); err != nil {
		return Message{}, fmt.Errorf("mailbox: decode message: %w", err)
	}
	return m, nil
}

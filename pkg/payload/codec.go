package payload

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxEncodedSize is an upper bound on len(Encode(p)) for any valid payload.
// Transports size their shared regions from it.
const MaxEncodedSize = 512

// Encode serialises a validated copy of p.
func Encode(p *DetectionPayload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payload: encode: %w", err)
	}
	return b, nil
}

// Decode parses b into dst. dst is only written when b decodes into a valid
// payload.
func Decode(b []byte, dst *DetectionPayload) error {
	var p DetectionPayload
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("payload: decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("payload: decode: %w", err)
	}
	*dst = p
	return nil
}

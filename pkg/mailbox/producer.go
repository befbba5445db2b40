package mailbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/vabridge/pkg/payload"
)

// Producer is the sending side of the mailbox. It owns the staging buffer
// returned by [Producer.Slot].
//
// A Producer is meant to be driven by a single goroutine (the audio
// processing task); it is not safe for concurrent use.
type Producer struct {
	t    Transport
	self Endpoint
	dest Endpoint
	log  *slog.Logger
	rec  Recorder

	slot payload.DetectionPayload
	sent uint64
}

// NewProducer configures self on t and returns a Producer sending to dest.
// A configuration failure is returned wrapped in [ErrTransport].
func NewProducer(t Transport, self, dest Endpoint, opts ...Option) (*Producer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := t.Configure(self); err != nil {
		return nil, transportErr("configure "+self.String(), err)
	}
	return &Producer{
		t:    t,
		self: self,
		dest: dest,
		log:  o.logger,
		rec:  o.recorder,
	}, nil
}

// Slot returns the staging buffer. Fill it, then call [Producer.Publish].
// The transport never reads the slot directly; Publish copies it.
func (p *Producer) Slot() *payload.DetectionPayload {
	return &p.slot
}

// Publish copies the staging buffer into the destination's shared region and
// raises its notification. It does not wait for the consumer.
//
// An invalid staging buffer is reported as a plain error. A transport
// failure is returned wrapped in [ErrTransport] and must be treated as fatal.
func (p *Producer) Publish(ctx context.Context) error {
	msg := Message{
		ClientID: p.dest.ClientID,
		IntrMask: p.self.InterruptMask(),
		Payload:  p.slot,
	}
	b, err := EncodeMessage(&msg)
	if err != nil {
		return fmt.Errorf("mailbox: publish: %w", err)
	}
	if err := p.t.Send(ctx, p.self, p.dest, b); err != nil {
		p.rec.RecordSend(ctx, "error")
		p.log.Error("mailbox send failed", "from", p.self, "to", p.dest, "err", err)
		return transportErr("send to "+p.dest.String(), err)
	}
	p.sent++
	p.rec.RecordSend(ctx, "ok")
	return nil
}

// Sent returns the number of successful publishes.
func (p *Producer) Sent() uint64 {
	return p.sent
}

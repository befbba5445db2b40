// Package mock provides a test double for [mailbox.Transport].
//
// Transport records every call and lets tests inject failures or push
// arbitrary bytes into a registered handler:
//
//	tr := &mock.Transport{SendErr: errors.New("busy")}
//	p, _ := mailbox.NewProducer(tr, mailbox.ProducerEndpoint, mailbox.ConsumerEndpoint)
//	err := p.Publish(ctx) // errors.Is(err, mailbox.ErrTransport)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vabridge/pkg/mailbox"
)

// SendCall records a single invocation of Transport.Send.
type SendCall struct {
	From mailbox.Endpoint
	Dest mailbox.Endpoint
	// Msg is a copy of the bytes passed to Send.
	Msg []byte
}

// Transport is a mock implementation of mailbox.Transport. When Loopback is
// true, Send delivers msg synchronously to the handler registered for Dest.
type Transport struct {
	mu sync.Mutex

	// ConfigureErr, if non-nil, is returned by every Configure call.
	ConfigureErr error

	// RegisterErr, if non-nil, is returned by every RegisterReceiveCallback call.
	RegisterErr error

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// Loopback delivers sent messages to the registered handler of Dest.
	Loopback bool

	// --- Call records ---

	Configured []mailbox.Endpoint
	SendCalls  []SendCall
	CloseCount int

	handlers map[uint32]mailbox.ReceiveHandler
}

// Configure records the call and returns ConfigureErr.
func (t *Transport) Configure(ep mailbox.Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Configured = append(t.Configured, ep)
	return t.ConfigureErr
}

// RegisterReceiveCallback stores h unless RegisterErr is set.
func (t *Transport) RegisterReceiveCallback(ep mailbox.Endpoint, h mailbox.ReceiveHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RegisterErr != nil {
		return t.RegisterErr
	}
	if t.handlers == nil {
		t.handlers = make(map[uint32]mailbox.ReceiveHandler)
	}
	t.handlers[ep.Address] = h
	return nil
}

// Send records the call and returns SendErr. With Loopback set and no error,
// it invokes the handler registered for dest.
func (t *Transport) Send(_ context.Context, from, dest mailbox.Endpoint, msg []byte) error {
	t.mu.Lock()
	cp := make([]byte, len(msg))
	copy(cp, msg)
	t.SendCalls = append(t.SendCalls, SendCall{From: from, Dest: dest, Msg: cp})
	err := t.SendErr
	h := t.handlers[dest.Address]
	loop := t.Loopback
	t.mu.Unlock()

	if err != nil {
		return err
	}
	if loop && h != nil {
		h(cp)
	}
	return nil
}

// Deliver invokes the handler registered for ep with msg. It reports false
// when no handler is registered.
func (t *Transport) Deliver(ep mailbox.Endpoint, msg []byte) bool {
	t.mu.Lock()
	h := t.handlers[ep.Address]
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h(msg)
	return true
}

// Close records the call.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCount++
	return nil
}

// Sent returns a copy of the recorded Send calls. Thread-safe.
func (t *Transport) Sent() []SendCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SendCall, len(t.SendCalls))
	copy(out, t.SendCalls)
	return out
}

// Ensure Transport implements mailbox.Transport at compile time.
var _ mailbox.Transport = (*Transport)(nil)

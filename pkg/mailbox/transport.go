// Package mailbox implements the cross-core mailbox: a single-slot,
// notification-driven transport that hands one [payload.DetectionPayload]
// from the producer (audio-processing side) to the consumer (application
// side).
//
// The mailbox is "latest value wins", not a queue. The consumer keeps three
// pieces of state, all guarded by one short critical section:
//
//   - the last received payload, overwritten by every arrival;
//   - the last unread detection, overwritten by every arrival that carries an
//     event (an unread detection is replaced, never queued);
//   - the detection latch, set on event arrivals and cleared only by
//     [Consumer.TakeAndClearDetection].
//
// The physical transport is abstracted behind [Transport]; package pipe
// provides an in-process implementation and package wsbridge runs the two
// sides in separate processes.
package mailbox

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransport wraps every failure of the underlying transport. It is
	// fatal: a transport that failed a send or a registration is not retried.
	ErrTransport = errors.New("mailbox: transport failure")

	// ErrNotConfigured is returned by transports for endpoints that were never
	// configured or have no receive callback.
	ErrNotConfigured = errors.New("mailbox: endpoint not configured")

	// ErrMessageTooLarge is returned when an encoded message does not fit the
	// shared region.
	ErrMessageTooLarge = errors.New("mailbox: message too large")

	// ErrClosed is returned by transports after Close.
	ErrClosed = errors.New("mailbox: transport closed")
)

// ReceiveHandler is invoked by a transport when a message arrives for an
// endpoint. It plays the role of the inter-core interrupt handler: it must not
// block, and msg is only valid for the duration of the call.
type ReceiveHandler func(msg []byte)

// Transport is the contract the mailbox needs from the inter-core transport
// layer.
//
// Implementations must guarantee that a message is fully copied into the
// destination's shared region before its receive handler runs. They may
// collapse consecutive undelivered messages for one endpoint into the newest.
type Transport interface {
	// Configure prepares ep to send and receive.
	Configure(ep Endpoint) error

	// RegisterReceiveCallback installs h as the receive handler of ep.
	RegisterReceiveCallback(ep Endpoint, h ReceiveHandler) error

	// Send copies msg into the shared region of dest and raises its
	// notification. It does not wait for the receiver to handle the message.
	Send(ctx context.Context, from, dest Endpoint, msg []byte) error

	// Close releases the transport. Calling Close more than once is safe.
	Close() error
}

// transportErr wraps err so that errors.Is reports both ErrTransport and the
// cause.
func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// Package pipe provides an in-process [mailbox.Transport].
//
// Every configured endpoint owns a fixed-size shared region and a
// notification line. [Pipe.Send] copies the message into the destination's
// region under the region lock and only then raises the line, so a receiver
// never observes a partially written message. The line is a capacity-1
// channel with overwrite-on-full semantics: two sends that arrive before the
// receiver is dispatched collapse into one delivery of the newest message.
//
// By default each endpoint is served by a dispatch goroutine, standing in for
// the interrupt context of the receiving core. [WithSyncDelivery] dispatches
// inline from Send instead, which makes tests deterministic.
package pipe

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/vabridge/pkg/mailbox"
)

// DefaultRegionSize fits any encoded [mailbox.Message].
const DefaultRegionSize = mailbox.MaxMessageSize

// Option configures a [Pipe].
type Option func(*Pipe)

// WithRegionSize sets the size of each endpoint's shared region.
func WithRegionSize(n int) Option {
	return func(p *Pipe) {
		if n > 0 {
			p.regionSize = n
		}
	}
}

// WithSyncDelivery makes Send invoke the destination's handler before
// returning.
func WithSyncDelivery() Option {
	return func(p *Pipe) {
		p.sync = true
	}
}

// Pipe is an in-process transport. It is safe for concurrent use.
type Pipe struct {
	regionSize int
	sync       bool

	mu        sync.Mutex
	endpoints map[uint32]*endpoint
	closed    bool
	wg        sync.WaitGroup
}

// endpoint is the per-endpoint shared state.
type endpoint struct {
	ep Endpoint

	// regionMu guards region and n.
	regionMu sync.Mutex
	region   []byte
	n        int

	handlerMu sync.RWMutex
	handler   mailbox.ReceiveHandler

	notify chan struct{}
	done   chan struct{}
}

// Endpoint aliases [mailbox.Endpoint] for brevity.
type Endpoint = mailbox.Endpoint

// New creates an empty Pipe.
func New(opts ...Option) *Pipe {
	p := &Pipe{
		regionSize: DefaultRegionSize,
		endpoints:  make(map[uint32]*endpoint),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Configure allocates the shared region and notification line of ep.
// Configuring an endpoint twice is a no-op.
func (p *Pipe) Configure(ep Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return mailbox.ErrClosed
	}
	if _, ok := p.endpoints[ep.Address]; ok {
		return nil
	}
	e := &endpoint{
		ep:     ep,
		region: make([]byte, p.regionSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.endpoints[ep.Address] = e
	if !p.sync {
		p.wg.Add(1)
		go p.dispatch(e)
	}
	return nil
}

// RegisterReceiveCallback installs h as the handler of a configured endpoint.
func (p *Pipe) RegisterReceiveCallback(ep Endpoint, h mailbox.ReceiveHandler) error {
	e, err := p.lookup(ep)
	if err != nil {
		return err
	}
	e.handlerMu.Lock()
	e.handler = h
	e.handlerMu.Unlock()
	return nil
}

// Send copies msg into the shared region of dest and raises its line. It
// never blocks on the receiver.
func (p *Pipe) Send(_ context.Context, _, dest Endpoint, msg []byte) error {
	e, err := p.lookup(dest)
	if err != nil {
		return err
	}
	if len(msg) > len(e.region) {
		return fmt.Errorf("%w: %d bytes, region is %d", mailbox.ErrMessageTooLarge, len(msg), len(e.region))
	}
	e.handlerMu.RLock()
	registered := e.handler != nil
	e.handlerMu.RUnlock()
	if !registered {
		return fmt.Errorf("%w: %s has no receive callback", mailbox.ErrNotConfigured, dest)
	}

	e.regionMu.Lock()
	e.n = copy(e.region, msg)
	e.regionMu.Unlock()

	if p.sync {
		e.deliver()
		return nil
	}
	select {
	case e.notify <- struct{}{}:
	default:
		// Line already raised; the pending delivery will read the newest region.
	}
	return nil
}

// Close stops all dispatchers and waits for in-flight deliveries to finish.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, e := range p.endpoints {
		close(e.done)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Pipe) lookup(ep Endpoint) (*endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, mailbox.ErrClosed
	}
	e, ok := p.endpoints[ep.Address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mailbox.ErrNotConfigured, ep)
	}
	return e, nil
}

// dispatch delivers notifications for e until the pipe is closed.
func (p *Pipe) dispatch(e *endpoint) {
	defer p.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.notify:
			e.deliver()
		}
	}
}

// deliver copies the region out and hands the copy to the handler.
func (e *endpoint) deliver() {
	e.regionMu.Lock()
	msg := make([]byte, e.n)
	copy(msg, e.region[:e.n])
	e.regionMu.Unlock()

	e.handlerMu.RLock()
	h := e.handler
	e.handlerMu.RUnlock()
	if h != nil {
		h(msg)
	}
}

var _ mailbox.Transport = (*Pipe)(nil)

// Package wsbridge provides a [mailbox.Transport] over a single WebSocket
// link, so the producer and the consumer can run in separate processes.
//
// One side serves the link through [Bridge.ServeHTTP]; the other attaches with
// [Bridge.Dial]. Each mailbox message crosses the link as one binary frame
// holding the msgpack-encoded {dest, from, body} triple. Frames are delivered
// to the receive callback registered for the destination address from the
// read loop, which plays the role of the receiving core's interrupt context.
//
// A Bridge carries at most one link at a time. A failed write is returned to
// the caller; the link is not re-established automatically.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/vabridge/pkg/mailbox"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 2 * time.Second

// maxFrameSize bounds an encoded frame: body plus the envelope fields.
const maxFrameSize = mailbox.MaxMessageSize + 32

var (
	// ErrNoLink is returned by Send while no peer is attached.
	ErrNoLink = errors.New("wsbridge: no link attached")

	// ErrLinkBusy is returned when a second peer tries to attach.
	ErrLinkBusy = errors.New("wsbridge: link already attached")
)

// frame is the wire unit of the link.
type frame struct {
	Dest uint32 `msgpack:"d"`
	From uint32 `msgpack:"f"`
	Body []byte `msgpack:"b"`
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithWriteTimeout sets the per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.writeTimeout = d
		}
	}
}

// link is one attached WebSocket connection.
type link struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Bridge is a WebSocket-backed mailbox transport. It is safe for concurrent
// use.
type Bridge struct {
	log          *slog.Logger
	writeTimeout time.Duration

	mu       sync.Mutex
	local    map[uint32]mailbox.ReceiveHandler
	link     *link
	closed   bool
	attached chan struct{}

	wg sync.WaitGroup
}

// New returns a Bridge with no link attached.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		log:          slog.Default(),
		writeTimeout: DefaultWriteTimeout,
		local:        make(map[uint32]mailbox.ReceiveHandler),
		attached:     make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Dial creates a Bridge and attaches it to the peer serving url.
func Dial(ctx context.Context, url string, opts ...Option) (*Bridge, error) {
	b := New(opts...)
	if err := b.Dial(ctx, url); err != nil {
		return nil, err
	}
	return b, nil
}

// Dial attaches b to the peer serving url and starts the read loop.
func (b *Bridge) Dial(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("wsbridge: dial %s: %w", url, err)
	}
	l, err := b.attach(conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return err
	}
	go func() {
		defer b.wg.Done()
		b.readLoop(l)
	}()
	b.log.Info("wsbridge: link attached", "url", url)
	return nil
}

// ServeHTTP accepts the peer's WebSocket and serves the link until it closes.
// A second peer is refused with 409 while a link is attached.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	busy := b.link != nil || b.closed
	b.mu.Unlock()
	if busy {
		http.Error(w, ErrLinkBusy.Error(), http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Warn("wsbridge: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	l, err := b.attach(conn)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, err.Error())
		return
	}
	b.log.Info("wsbridge: link attached", "remote", r.RemoteAddr)
	defer b.wg.Done()
	b.readLoop(l)
}

// WaitAttached blocks until a link is attached or ctx is done.
func (b *Bridge) WaitAttached(ctx context.Context) error {
	b.mu.Lock()
	ch := b.attached
	b.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a link is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.link != nil
}

// Configure marks ep as served by this side of the link. Configuring twice is
// a no-op.
func (b *Bridge) Configure(ep mailbox.Endpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mailbox.ErrClosed
	}
	if _, ok := b.local[ep.Address]; !ok {
		b.local[ep.Address] = nil
	}
	return nil
}

// RegisterReceiveCallback installs h for frames addressed to ep.
func (b *Bridge) RegisterReceiveCallback(ep mailbox.Endpoint, h mailbox.ReceiveHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mailbox.ErrClosed
	}
	if _, ok := b.local[ep.Address]; !ok {
		return fmt.Errorf("%w: %s", mailbox.ErrNotConfigured, ep)
	}
	b.local[ep.Address] = h
	return nil
}

// Send writes msg to the peer as one frame addressed to dest.
func (b *Bridge) Send(ctx context.Context, from, dest mailbox.Endpoint, msg []byte) error {
	if len(msg) > mailbox.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", mailbox.ErrMessageTooLarge, len(msg))
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return mailbox.ErrClosed
	}
	l := b.link
	b.mu.Unlock()
	if l == nil {
		return ErrNoLink
	}

	data, err := msgpack.Marshal(&frame{Dest: dest.Address, From: from.Address, Body: msg})
	if err != nil {
		return fmt.Errorf("wsbridge: encode frame: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()
	if err := l.conn.Write(wctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("wsbridge: write to %s: %w", dest, err)
	}
	return nil
}

// Close closes the link with a normal closure and waits for the read loop.
// It is idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	l := b.link
	b.mu.Unlock()

	if l != nil {
		l.conn.Close(websocket.StatusNormalClosure, "bridge closed")
		l.cancel()
	}
	b.wg.Wait()
	return nil
}

// attach installs conn as the link. On success the caller owns one count of
// b.wg and must run the read loop.
func (b *Bridge) attach(conn *websocket.Conn) (*link, error) {
	conn.SetReadLimit(maxFrameSize)
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{conn: conn, ctx: ctx, cancel: cancel}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		cancel()
		return nil, mailbox.ErrClosed
	}
	if b.link != nil {
		cancel()
		return nil, ErrLinkBusy
	}
	b.link = l
	b.wg.Add(1)
	close(b.attached)
	return l, nil
}

func (b *Bridge) detach(l *link) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.link == l {
		b.link = nil
		b.attached = make(chan struct{})
	}
}

// readLoop dispatches incoming frames until the link fails or is closed.
func (b *Bridge) readLoop(l *link) {
	defer b.detach(l)
	defer l.cancel()
	defer l.conn.CloseNow()

	for {
		typ, data, err := l.conn.Read(l.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && l.ctx.Err() == nil {
				b.log.Warn("wsbridge: link lost", "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			b.log.Warn("wsbridge: dropping non-binary frame")
			continue
		}
		var f frame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			b.log.Warn("wsbridge: dropping undecodable frame", "bytes", len(data), "err", err)
			continue
		}

		b.mu.Lock()
		h := b.local[f.Dest]
		b.mu.Unlock()
		if h == nil {
			b.log.Warn("wsbridge: dropping frame for unknown endpoint", "dest", f.Dest, "from", f.From)
			continue
		}
		h(f.Body)
	}
}

var _ mailbox.Transport = (*Bridge)(nil)

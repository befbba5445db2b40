package mailbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vabridge/pkg/payload"
)

// Consumer is the receiving side of the mailbox. [Consumer.Receive] is the
// notification handler; the remaining methods are for the application's
// polling task. All methods are safe for concurrent use.
type Consumer struct {
	self Endpoint
	log  *slog.Logger
	rec  Recorder

	// mu guards the fields below. It is only held for payload copies.
	mu            sync.Mutex
	interval      time.Duration
	attempts      int
	lastReceived  payload.DetectionPayload
	lastDetection payload.DetectionPayload
	hasDetection  bool
	hasMessage    bool
	received      uint64
}

// NewConsumer configures self on t and registers the consumer's receive
// handler. Failures are returned wrapped in [ErrTransport].
func NewConsumer(t Transport, self Endpoint, opts ...Option) (*Consumer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Consumer{
		self:     self,
		log:      o.logger,
		rec:      o.recorder,
		interval: o.fetchInterval,
		attempts: o.fetchAttempts,
	}
	if err := t.Configure(self); err != nil {
		return nil, transportErr("configure "+self.String(), err)
	}
	if err := t.RegisterReceiveCallback(self, c.Receive); err != nil {
		return nil, transportErr("register "+self.String(), err)
	}
	return c, nil
}

// Receive handles one arrived message. It decodes outside the critical
// section, then updates the holders as one unit: the last received payload
// is always overwritten, and an event payload also replaces any unread
// detection and sets the latch.
//
// Messages that fail to decode or that address another client are dropped
// without touching any holder.
func (c *Consumer) Receive(msg []byte) {
	ctx := context.Background()

	m, err := DecodeMessage(msg)
	if err != nil {
		c.rec.RecordDropped(ctx, "decode")
		c.log.Warn("mailbox: dropping undecodable message", "endpoint", c.self, "bytes", len(msg), "err", err)
		return
	}
	if m.ClientID != c.self.ClientID {
		c.rec.RecordDropped(ctx, "client_id")
		c.log.Warn("mailbox: dropping message for another client",
			"endpoint", c.self,
			"client_id", m.ClientID,
		)
		return
	}

	c.mu.Lock()
	c.lastReceived = m.Payload
	overwrote := false
	if m.Payload.HasEvent {
		overwrote = c.hasDetection
		c.lastDetection = m.Payload
		c.hasDetection = true
	}
	c.hasMessage = true
	c.received++
	c.mu.Unlock()

	c.rec.RecordReceive(ctx, m.Payload.HasEvent)
	if overwrote {
		c.rec.RecordOverwrite(ctx)
		c.log.Debug("mailbox: unread detection replaced by newer one", "endpoint", c.self)
	}
}

// IsMessagePending reports whether any message arrived since the previous
// call, and clears the flag. It is independent of the detection latch.
func (c *Consumer) IsMessagePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.hasMessage
	c.hasMessage = false
	return pending
}

// CopyLastRawPayload returns a copy of the most recently received payload,
// event or not.
func (c *Consumer) CopyLastRawPayload() payload.DetectionPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReceived
}

// TakeAndClearDetection returns the unread detection and true if the latch is
// set, clearing it. Otherwise it returns the status of the last received
// payload with its event cleared, and false. A single arrival is reported
// with HasEvent exactly once.
func (c *Consumer) TakeAndClearDetection() (payload.DetectionPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasDetection {
		c.hasDetection = false
		return c.lastDetection, true
	}
	p := c.lastReceived
	p.ClearEvent()
	return p, false
}

// Fetch waits for a fresh detection. Each of the configured attempts sleeps
// the configured interval and then polls [Consumer.TakeAndClearDetection], so
// the full budget is attempts x interval. On a fresh event it returns early
// with true. When the budget is exhausted it returns the latest non-event
// status and false. A cancelled ctx ends the wait with ctx.Err().
func (c *Consumer) Fetch(ctx context.Context) (payload.DetectionPayload, bool, error) {
	c.mu.Lock()
	interval, attempts := c.interval, c.attempts
	c.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	var p payload.DetectionPayload
	for i := range attempts {
		if i > 0 {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			c.rec.RecordFetch(ctx, time.Since(start), false)
			return p, false, ctx.Err()
		case <-timer.C:
		}

		var fresh bool
		p, fresh = c.TakeAndClearDetection()
		if fresh && p.HasEvent {
			c.rec.RecordFetch(ctx, time.Since(start), true)
			return p, true, nil
		}
	}
	c.rec.RecordFetch(ctx, time.Since(start), false)
	return p, false, nil
}

// SetFetchPolicy changes the poll interval and attempt count for subsequent
// calls to [Consumer.Fetch]. Non-positive values leave the current setting.
func (c *Consumer) SetFetchPolicy(interval time.Duration, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if interval > 0 {
		c.interval = interval
	}
	if attempts > 0 {
		c.attempts = attempts
	}
}

// Received returns the number of accepted arrivals.
func (c *Consumer) Received() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// Endpoint returns the consumer's endpoint.
func (c *Consumer) Endpoint() Endpoint {
	return c.self
}

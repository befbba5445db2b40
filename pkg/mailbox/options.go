package mailbox

import (
	"context"
	"log/slog"
	"time"
)

// Default fetch policy: 100 polls, each after a 100 ms wait, for a ten
// second budget.
const (
	DefaultFetchInterval = 100 * time.Millisecond
	DefaultFetchAttempts = 100
)

// Recorder receives mailbox observations. Implementations must be safe for
// concurrent use; the receive path calls them from the transport's delivery
// context.
type Recorder interface {
	// RecordSend is called after every publish with status "ok" or "error".
	RecordSend(ctx context.Context, status string)

	// RecordReceive is called for every accepted arrival.
	RecordReceive(ctx context.Context, hasEvent bool)

	// RecordOverwrite is called when an unread detection is replaced by a
	// newer one.
	RecordOverwrite(ctx context.Context)

	// RecordDropped is called when an arrival is rejected (reason is
	// "decode" or "client_id").
	RecordDropped(ctx context.Context, reason string)

	// RecordFetch is called when a Fetch returns.
	RecordFetch(ctx context.Context, d time.Duration, fresh bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordSend(context.Context, string) {}
func (nopRecorder) RecordReceive(context.Context, bool) {}
func (nopRecorder) RecordOverwrite(context.Context) {}
func (nopRecorder) RecordDropped(context.Context, string) {}
func (nopRecorder) RecordFetch(context.Context, time.Duration, bool) {}

type options struct {
	logger        *slog.Logger
	recorder      Recorder
	fetchInterval time.Duration
	fetchAttempts int
}

func defaultOptions() options {
	return options{
		logger:        slog.Default(),
		recorder:      nopRecorder{},
		fetchInterval: DefaultFetchInterval,
		fetchAttempts: DefaultFetchAttempts,
	}
}

// Option configures a [Producer] or a [Consumer].
type Option func(*options)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithFetchPolicy sets the poll interval and the number of polls used by
// [Consumer.Fetch]. Non-positive values keep the defaults.
func WithFetchPolicy(interval time.Duration, attempts int) Option {
	return func(o *options) {
		if interval > 0 {
			o.fetchInterval = interval
		}
		if attempts > 0 {
			o.fetchAttempts = attempts
		}
	}
}

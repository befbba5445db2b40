package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vabridge/pkg/mailbox/wsbridge"
)

// Default startup dial parameters of a split producer.
const (
	defaultDialAttempts   = 10
	defaultDialBackoff    = 500 * time.Millisecond
	defaultDialMaxBackoff = 10 * time.Second
)

// DialPolicy bounds how long a split producer waits for its consumer to
// start serving. It only covers startup; a link lost later is fatal.
type DialPolicy struct {
	// Attempts is the number of dials before giving up. Default 10.
	Attempts int
	// Backoff doubles after every failure up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (p DialPolicy) withDefaults() DialPolicy {
	if p.Attempts <= 0 {
		p.Attempts = defaultDialAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultDialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultDialMaxBackoff
	}
	return p
}

// WithDialPolicy sets the startup dial policy of a split producer.
func WithDialPolicy(p DialPolicy) Option {
	return func(a *App) { a.dial = p }
}

// dialBridge attaches a bridge to url, retrying with exponential backoff.
func dialBridge(ctx context.Context, log *slog.Logger, url string, p DialPolicy, opts ...wsbridge.Option) (*wsbridge.Bridge, error) {
	p = p.withDefaults()
	b := wsbridge.New(opts...)
	backoff := p.Backoff

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = b.Dial(ctx, url); err == nil {
			return b, nil
		}
		log.Warn("app: mailbox dial failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", p.Attempts,
			"err", err,
		)
		if attempt == p.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			_ = b.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.MaxBackoff)
	}
	_ = b.Close()
	return nil, fmt.Errorf("app: mailbox unreachable after %d attempts: %w", p.Attempts, err)
}

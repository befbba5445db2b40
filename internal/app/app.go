// Package app wires the vabridge subsystems into a running process.
//
// An App plays one or both sides of the mailbox. The producer side reads
// audio frames, runs the detection state machine and publishes payloads. The
// consumer side runs the light-control sessions: it waits for detections,
// applies their intents and publishes a telemetry snapshot per message.
//
// New creates and connects all subsystems, Run executes the selected tasks
// and Shutdown releases everything in order. Tests inject transports,
// sources and timelines through functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/vabridge/internal/config"
	"github.com/MrWong99/vabridge/internal/health"
	"github.com/MrWong99/vabridge/internal/lights"
	"github.com/MrWong99/vabridge/internal/observe"
	"github.com/MrWong99/vabridge/pkg/audio"
	"github.com/MrWong99/vabridge/pkg/detect"
	"github.com/MrWong99/vabridge/pkg/detect/script"
	"github.com/MrWong99/vabridge/pkg/intent"
	"github.com/MrWong99/vabridge/pkg/mailbox"
	"github.com/MrWong99/vabridge/pkg/mailbox/pipe"
	"github.com/MrWong99/vabridge/pkg/mailbox/wsbridge"
)

// Role selects which side of the mailbox an App runs.
type Role int

const (
	// RoleAll runs both sides in one process over an in-memory pipe.
	RoleAll Role = iota
	// RoleProducer runs the audio side and dials the consumer.
	RoleProducer
	// RoleConsumer runs the application side and serves the link.
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleAll:
		return "all"
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

func (r Role) producer() bool { return r == RoleAll || r == RoleProducer }
func (r Role) consumer() bool { return r == RoleAll || r == RoleConsumer }

// ErrNoTraffic is reported by the consumer readiness check until the first
// message arrives.
var ErrNoTraffic = errors.New("app: no mailbox message received yet")

// TelemetrySink receives every published telemetry snapshot.
type TelemetrySink func(ctx context.Context, t lights.Telemetry)

// App owns all subsystem lifetimes.
type App struct {
	cfg  *config.Config
	role Role
	log  *slog.Logger

	metrics   *observe.Metrics
	transport mailbox.Transport
	source    audio.Source
	timeline  *script.Timeline
	model     *intent.Model
	lights    *lights.Controller
	sink      TelemetrySink
	dial      DialPolicy

	det      *detect.Detector
	producer *mailbox.Producer
	consumer *mailbox.Consumer
	probe    *health.Probe

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithTransport injects a transport instead of creating one from config.
// The App does not close an injected transport.
func WithTransport(t mailbox.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithSource injects the audio source. The App closes it on Shutdown.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithTimeline injects the scripted detector timeline.
func WithTimeline(tl *script.Timeline) Option {
	return func(a *App) { a.timeline = tl }
}

// WithLights injects the light controller.
func WithLights(c *lights.Controller) Option {
	return func(a *App) { a.lights = c }
}

// WithMetrics sets the metrics instance. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithTelemetrySink installs a callback for published snapshots, in addition
// to the log line every snapshot gets.
func WithTelemetrySink(s TelemetrySink) Option {
	return func(a *App) { a.sink = s }
}

// New creates an App for role from a validated cfg. For RoleProducer with
// the websocket transport New dials the consumer, retrying per the
// [DialPolicy] while it is not serving yet.
func New(ctx context.Context, cfg *config.Config, role Role, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		role:  role,
		log:   slog.Default(),
		probe: health.NewProbe(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.log = a.log.With("role", role.String())

	if err := a.initModel(); err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("app: init model: %w", err)
	}
	if err := a.initTransport(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("app: init transport: %w", err)
	}
	// The consumer registers first so an in-process producer never sends to
	// an unconfigured endpoint.
	if role.consumer() {
		if err := a.initConsumer(); err != nil {
			_ = a.Shutdown(ctx)
			return nil, fmt.Errorf("app: init consumer: %w", err)
		}
	}
	if role.producer() {
		if err := a.initProducer(); err != nil {
			_ = a.Shutdown(ctx)
			return nil, fmt.Errorf("app: init producer: %w", err)
		}
	}
	return a, nil
}

func (a *App) initModel() error {
	if path := a.cfg.Assistant.ModelFile; path != "" {
		m, err := intent.LoadModel(path)
		if err != nil {
			return err
		}
		a.model = m
		return nil
	}
	m, ok := intent.Builtin(a.cfg.Assistant.Model)
	if !ok {
		return fmt.Errorf("unknown builtin model %q", a.cfg.Assistant.Model)
	}
	a.model = m
	return nil
}

func (a *App) initTransport(ctx context.Context) error {
	if a.transport != nil {
		return nil
	}
	wsOpts := []wsbridge.Option{wsbridge.WithLogger(a.log)}
	switch {
	case a.cfg.Mailbox.Transport == config.TransportPipe && a.role == RoleAll:
		p := pipe.New()
		a.transport = p
		a.closers = append(a.closers, p.Close)
	case a.cfg.Mailbox.Transport == config.TransportWebSocket && a.role == RoleProducer:
		b, err := dialBridge(ctx, a.log, a.cfg.Mailbox.URL, a.dial, wsOpts...)
		if err != nil {
			return err
		}
		a.transport = b
		a.closers = append(a.closers, b.Close)
	case a.cfg.Mailbox.Transport == config.TransportWebSocket && a.role == RoleConsumer:
		b := wsbridge.New(wsOpts...)
		a.transport = b
		a.closers = append(a.closers, b.Close)
	default:
		return fmt.Errorf("transport %q cannot serve role %s", a.cfg.Mailbox.Transport, a.role)
	}
	return nil
}

func (a *App) initConsumer() error {
	c, err := mailbox.NewConsumer(a.transport, mailbox.ConsumerEndpoint,
		mailbox.WithLogger(a.log),
		mailbox.WithRecorder(a.metrics),
		mailbox.WithFetchPolicy(a.cfg.Mailbox.FetchInterval, a.cfg.Mailbox.FetchAttempts),
	)
	if err != nil {
		return err
	}
	a.consumer = c
	if a.lights == nil {
		a.lights = lights.New()
	}
	return nil
}

func (a *App) initProducer() error {
	if a.source == nil {
		src, err := a.openSource()
		if err != nil {
			return err
		}
		a.source = src
	}
	a.closers = append(a.closers, a.source.Close)

	if a.timeline == nil {
		tl := script.Default()
		if path := a.cfg.Scenario.Timeline; path != "" {
			var err error
			if tl, err = script.Load(path); err != nil {
				return err
			}
		}
		a.timeline = tl
	}
	ww, cmd := a.timeline.Detectors(a.cfg.Assistant.PreSilenceTimeout, a.cfg.Assistant.CommandTimeout, audio.FrameDuration)
	det, err := detect.New(
		detect.Config{Mode: a.cfg.Assistant.DetectMode(), FrameSamples: audio.FrameSamples},
		detect.Detectors{WakeWord: ww, Command: cmd},
		detect.WithLogger(a.log),
		detect.WithRecorder(a.metrics),
	)
	if err != nil {
		return err
	}
	a.det = det

	p, err := mailbox.NewProducer(a.transport, mailbox.ProducerEndpoint, mailbox.ConsumerEndpoint,
		mailbox.WithLogger(a.log),
		mailbox.WithRecorder(a.metrics),
	)
	if err != nil {
		return err
	}
	a.producer = p
	return nil
}

func (a *App) openSource() (audio.Source, error) {
	var opts []audio.SourceOption
	if a.cfg.Source.Realtime {
		opts = append(opts, audio.WithRealtime())
	}
	switch a.cfg.Source.Kind {
	case config.SourcePCM:
		return audio.OpenPCMFile(a.cfg.Source.Path, a.cfg.Source.Format(), opts...)
	case config.SourceSilence:
		return audio.NewSilenceSource(a.cfg.Source.Frames, opts...), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", a.cfg.Source.Kind)
}

// Run executes the tasks of the App's role and blocks until they finish or
// ctx is cancelled. A cancelled ctx is not an error. The producer finishing
// early, for example on a drained source, does not stop the consumer.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("app running",
		"mode", a.cfg.Assistant.Mode,
		"model", a.model.Name,
		"transport", a.cfg.Mailbox.Transport,
	)
	return a.runTasks(ctx)
}

// Reload applies the hot-reloadable parts of a config change.
func (a *App) Reload(d config.ConfigDiff) {
	if d.FetchPolicyChanged && a.consumer != nil {
		a.consumer.SetFetchPolicy(d.NewFetchInterval, d.NewFetchAttempts)
		a.log.Info("app: fetch policy updated",
			"interval", d.NewFetchInterval,
			"attempts", d.NewFetchAttempts,
		)
	}
	for _, section := range d.RestartRequired {
		a.log.Warn("app: config change needs a restart", "section", section)
	}
}

// MailboxHandler returns the handler serving the producer link, or nil when
// the App does not accept one.
func (a *App) MailboxHandler() http.Handler {
	if b, ok := a.transport.(*wsbridge.Bridge); ok && a.role == RoleConsumer {
		return b
	}
	return nil
}

// Checkers returns the readiness checks of the App's role.
func (a *App) Checkers() []health.Checker {
	var cs []health.Checker
	if a.producer != nil {
		cs = append(cs, a.probe.Checker("producer"))
	}
	if a.consumer != nil {
		cs = append(cs, health.Checker{Name: "mailbox", Check: func(context.Context) error {
			if a.consumer.Received() == 0 {
				return ErrNoTraffic
			}
			return nil
		}})
	}
	return cs
}

// Shutdown runs the closers in order. Remaining closers are skipped once ctx
// is done.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Debug("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, err)
				return
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

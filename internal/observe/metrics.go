// Package observe provides the observability primitives for vabridge:
// OpenTelemetry metrics, tracing helpers, trace-aware logging and HTTP
// middleware.
//
// [Metrics] implements both the detector and the mailbox recorder
// interfaces, so one instance observes a whole pipeline. A Prometheus
// exporter bridge is installed by [InitProvider]. Tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/vabridge/pkg/detect"
	"github.com/MrWong99/vabridge/pkg/mailbox"
)

// meterName is the instrumentation scope of all vabridge metrics.
const meterName = "github.com/MrWong99/vabridge"

// Metrics holds the OpenTelemetry instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// Detection state machine.
	FramesProcessed  metric.Int64Counter // attr: state
	DetectionEvents  metric.Int64Counter // attr: event
	DetectorErrors   metric.Int64Counter // attrs: state, kind
	DroppedVariables metric.Int64Counter

	// Mailbox.
	MailboxSends      metric.Int64Counter // attr: status
	MailboxReceives   metric.Int64Counter // attr: has_event
	MailboxOverwrites metric.Int64Counter
	MailboxDropped    metric.Int64Counter     // attr: reason
	FetchDuration     metric.Float64Histogram // attr: fresh

	// Application.
	TelemetryPublished metric.Int64Counter // attr: has_event
	LightLevel         metric.Int64Gauge   // attr: room
	IntentRejections   metric.Int64Counter // attr: reason

	// HTTPRequestDuration is recorded by [Middleware]. Attrs: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// fetchBuckets covers early returns up to the default ten second budget.
var fetchBuckets = []float64{
	0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("vabridge.detect.frames",
		metric.WithDescription("Audio frames handed to a sub-detector, by run state."),
	); err != nil {
		return nil, err
	}
	if met.DetectionEvents, err = m.Int64Counter("vabridge.detect.events",
		metric.WithDescription("Detection events by event name."),
	); err != nil {
		return nil, err
	}
	if met.DetectorErrors, err = m.Int64Counter("vabridge.detect.errors",
		metric.WithDescription("Sub-detector failures by run state and kind."),
	); err != nil {
		return nil, err
	}
	if met.DroppedVariables, err = m.Int64Counter("vabridge.detect.dropped_variables",
		metric.WithDescription("Intent variables discarded beyond the per-detection limit."),
	); err != nil {
		return nil, err
	}

	if met.MailboxSends, err = m.Int64Counter("vabridge.mailbox.sends",
		metric.WithDescription("Mailbox publishes by status."),
	); err != nil {
		return nil, err
	}
	if met.MailboxReceives, err = m.Int64Counter("vabridge.mailbox.receives",
		metric.WithDescription("Accepted mailbox arrivals."),
	); err != nil {
		return nil, err
	}
	if met.MailboxOverwrites, err = m.Int64Counter("vabridge.mailbox.overwrites",
		metric.WithDescription("Unread detections replaced by a newer one."),
	); err != nil {
		return nil, err
	}
	if met.MailboxDropped, err = m.Int64Counter("vabridge.mailbox.dropped",
		metric.WithDescription("Rejected mailbox arrivals by reason."),
	); err != nil {
		return nil, err
	}
	if met.FetchDuration, err = m.Float64Histogram("vabridge.mailbox.fetch.duration",
		metric.WithDescription("Time spent waiting for a detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(fetchBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TelemetryPublished, err = m.Int64Counter("vabridge.app.telemetry",
		metric.WithDescription("Telemetry snapshots published."),
	); err != nil {
		return nil, err
	}
	if met.LightLevel, err = m.Int64Gauge("vabridge.app.light_level",
		metric.WithDescription("Current light level per room."),
	); err != nil {
		return nil, err
	}
	if met.IntentRejections, err = m.Int64Counter("vabridge.app.intent_rejections",
		metric.WithDescription("Detections the application could not apply, by reason."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vabridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame implements detect.Recorder.
func (m *Metrics) RecordFrame(ctx context.Context, state detect.RunState) {
	m.FramesProcessed.Add(ctx, 1, metric.WithAttributes(Attr("state", state.String())))
}

// RecordEvent implements detect.Recorder.
func (m *Metrics) RecordEvent(ctx context.Context, ev detect.Event) {
	m.DetectionEvents.Add(ctx, 1, metric.WithAttributes(Attr("event", ev.String())))
}

// RecordDetectorError implements detect.Recorder.
func (m *Metrics) RecordDetectorError(ctx context.Context, state detect.RunState, kind string) {
	m.DetectorErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("state", state.String()),
		Attr("kind", kind),
	))
}

// RecordDroppedVariables implements detect.Recorder.
func (m *Metrics) RecordDroppedVariables(ctx context.Context, n int) {
	m.DroppedVariables.Add(ctx, int64(n))
}

// RecordSend implements mailbox.Recorder.
func (m *Metrics) RecordSend(ctx context.Context, status string) {
	m.MailboxSends.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordReceive implements mailbox.Recorder.
func (m *Metrics) RecordReceive(ctx context.Context, hasEvent bool) {
	m.MailboxReceives.Add(ctx, 1, metric.WithAttributes(attribute.Bool("has_event", hasEvent)))
}

// RecordOverwrite implements mailbox.Recorder.
func (m *Metrics) RecordOverwrite(ctx context.Context) {
	m.MailboxOverwrites.Add(ctx, 1)
}

// RecordDropped implements mailbox.Recorder.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	m.MailboxDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordFetch implements mailbox.Recorder.
func (m *Metrics) RecordFetch(ctx context.Context, d time.Duration, fresh bool) {
	m.FetchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("fresh", fresh)))
}

// RecordTelemetry counts one published snapshot and updates the room gauges.
func (m *Metrics) RecordTelemetry(ctx context.Context, hasEvent bool, levels map[string]int) {
	m.TelemetryPublished.Add(ctx, 1, metric.WithAttributes(attribute.Bool("has_event", hasEvent)))
	for room, level := range levels {
		m.LightLevel.Record(ctx, int64(level), metric.WithAttributes(Attr("room", room)))
	}
}

// RecordIntentRejection counts a detection the application refused.
func (m *Metrics) RecordIntentRejection(ctx context.Context, reason string) {
	m.IntentRejections.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

var (
	_ detect.Recorder  = (*Metrics)(nil)
	_ mailbox.Recorder = (*Metrics)(nil)
)

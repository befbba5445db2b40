package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vabridge/internal/lights"
	"github.com/MrWong99/vabridge/internal/observe"
	"github.com/MrWong99/vabridge/pkg/audio"
	"github.com/MrWong99/vabridge/pkg/detect"
	"github.com/MrWong99/vabridge/pkg/mailbox"
	"github.com/MrWong99/vabridge/pkg/payload"
)

// errSourceDrained marks the producer unready after its source ended.
var errSourceDrained = errors.New("app: audio source drained")

func (a *App) runTasks(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.producer != nil {
		g.Go(func() error { return a.produce(gctx) })
	}
	if a.consumer != nil {
		g.Go(func() error { return a.consume(gctx) })
	}
	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// produce is the audio processing task. Detector failures are logged and
// the frame is skipped; a license restriction or a transport failure stops
// the task.
func (a *App) produce(ctx context.Context) (err error) {
	ctx, span := observe.StartSpan(ctx, "app.produce")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx, a.log)

	slot := a.producer.Slot()
	slot.Reset()
	slot.SourceActive = true
	a.probe.Set(nil)

	var (
		res       detect.Result
		frames    int
		events    int
		published time.Time
	)
	for {
		frame, err := a.source.Next(ctx)
		if errors.Is(err, audio.ErrEndOfStream) {
			slot.Reset()
			a.probe.Set(errSourceDrained)
			log.Info("app: audio source drained", "frames", frames, "events", events)
			return a.publish(ctx, log)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("app: read audio: %w", err)
		}
		frames++

		ev, err := a.det.Process(frame.Samples, &res)
		if err != nil {
			if errors.Is(err, detect.ErrLicenseRestricted) {
				a.probe.Set(err)
				log.Error("app: detector stopped", "frame", frame.Index, "err", err)
				return fmt.Errorf("app: producer stopped: %w", err)
			}
			log.Warn("app: detector failure", "frame", frame.Index, "state", a.det.State(), "err", err)
			continue
		}
		if res.Dropped > 0 && ev == detect.EventCommandDetected {
			log.Warn("app: intent variables dropped", "dropped", res.Dropped, "kept", len(res.Variables))
		}

		switch {
		case ev.Qualifying():
			if err := a.stage(ev, &res); err != nil {
				log.Warn("app: detection not published", "event", ev, "err", err)
				continue
			}
			events++
			log.Info("app: detection", "event", ev, "payload", slot.String())
		case time.Since(published) >= a.cfg.Mailbox.HeartbeatInterval:
			slot.ClearEvent()
		default:
			continue
		}

		if err := a.publish(ctx, log); err != nil {
			return err
		}
		published = time.Now()
	}
}

// stage fills the producer slot for a qualifying event.
func (a *App) stage(ev detect.Event, res *detect.Result) error {
	slot := a.producer.Slot()
	switch ev {
	case detect.EventCommandDetected:
		text, err := a.det.Command()
		if err != nil {
			return err
		}
		return a.model.Resolve(res, text, slot)
	case detect.EventWakeWordDetected:
		return setTag(slot, payload.EventWake)
	default:
		return setTag(slot, payload.EventTimeout)
	}
}

func setTag(p *payload.DetectionPayload, tag string) error {
	p.ClearEvent()
	p.HasEvent = true
	return p.SetEvent(tag)
}

// publish sends the slot. Transport failures are fatal; an invalid slot is
// logged and skipped.
func (a *App) publish(ctx context.Context, log *slog.Logger) error {
	err := a.producer.Publish(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mailbox.ErrTransport):
		a.probe.Set(err)
		return fmt.Errorf("app: publish: %w", err)
	}
	log.Warn("app: payload not published", "err", err)
	return nil
}

// consume runs the configured number of telemetry sessions.
func (a *App) consume(ctx context.Context) error {
	budget := a.cfg.App.Budget()
	for n := range a.cfg.App.Sessions {
		id := uuid.NewString()
		sctx, span := observe.StartSpan(ctx, "app.session", trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.Int("session.number", n+1),
			attribute.Int("session.budget", budget),
		))
		err := a.session(sctx, observe.Logger(sctx, a.log).With("session_id", id), budget)
		observe.EndSpan(span, err)
		if err != nil {
			return err
		}
	}
	a.log.Info("app: all sessions complete", "sessions", a.cfg.App.Sessions)
	return nil
}

// session publishes one snapshot for the current state, then budget more,
// each after waiting for a detection.
func (a *App) session(ctx context.Context, log *slog.Logger, budget int) error {
	log.Info("app: session started", "budget", budget)
	p, fresh := a.consumer.TakeAndClearDetection()
	if fresh {
		a.apply(ctx, log, &p)
	}
	a.report(ctx, log, &p)

	for range budget {
		p, fresh, err := a.consumer.Fetch(ctx)
		if err != nil {
			return err
		}
		if fresh {
			a.apply(ctx, log, &p)
		}
		a.report(ctx, log, &p)
	}
	log.Info("app: session finished")
	return nil
}

func (a *App) apply(ctx context.Context, log *slog.Logger, p *payload.DetectionPayload) {
	if err := a.lights.Apply(p); err != nil {
		a.metrics.RecordIntentRejection(ctx, rejectionReason(err))
		log.Warn("app: intent rejected", "intent", p.IntentName, "param", p.IntentParamText,
			"number", p.IntentParamNumber, "err", err)
	}
}

func (a *App) report(ctx context.Context, log *slog.Logger, p *payload.DetectionPayload) {
	t := a.lights.Snapshot(p)
	a.metrics.RecordTelemetry(ctx, t.HasEvent, map[string]int{
		lights.Kitchen.String():    t.Kitchen,
		lights.Bedroom.String():    t.Bedroom,
		lights.LivingRoom.String(): t.LivingRoom,
	})
	if t.HasEvent {
		log.Info("app: telemetry", "telemetry", t)
	} else {
		log.Debug("app: telemetry", "telemetry", t)
	}
	if a.sink != nil {
		a.sink(ctx, t)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, lights.ErrUnknownIntent):
		return "unknown_intent"
	case errors.Is(err, lights.ErrUnknownRoom):
		return "unknown_room"
	case errors.Is(err, lights.ErrInvalidLevel):
		return "invalid_level"
	}
	return "other"
}

package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vabridge/internal/app"
	"github.com/MrWong99/vabridge/internal/config"
	"github.com/MrWong99/vabridge/internal/lights"
	"github.com/MrWong99/vabridge/pkg/audio"
	"github.com/MrWong99/vabridge/pkg/detect"
	"github.com/MrWong99/vabridge/pkg/detect/script"
	"github.com/MrWong99/vabridge/pkg/mailbox"
	"github.com/MrWong99/vabridge/pkg/mailbox/mock"
	"github.com/MrWong99/vabridge/pkg/payload"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Mailbox.HeartbeatInterval = time.Hour
	cfg.Mailbox.FetchInterval = time.Millisecond
	cfg.Mailbox.FetchAttempts = 100
	cfg.App.MaxMessages = 5
	return cfg
}

// bedroomTimeline wakes on the sixth frame and turns on the bedroom eleven
// command frames later.
func bedroomTimeline() *script.Timeline {
	return &script.Timeline{
		WakeWords: []int{5},
		Commands: []script.Command{{
			Text:        "turn on the bedroom lights",
			Intent:      0,
			Variables:   []script.Variable{{Value: 1, Unit: 13}},
			SpeechStart: 2,
			CompleteAt:  10,
		}},
	}
}

func decodeSent(t *testing.T, tr *mock.Transport) []payload.DetectionPayload {
	t.Helper()
	var out []payload.DetectionPayload
	for _, c := range tr.Sent() {
		m, err := mailbox.DecodeMessage(c.Msg)
		if err != nil {
			t.Fatalf("DecodeMessage: %v", err)
		}
		if c.Dest != mailbox.ConsumerEndpoint {
			t.Errorf("sent to %v, want consumer endpoint", c.Dest)
		}
		out = append(out, m.Payload)
	}
	return out
}

func TestRole_String(t *testing.T) {
	t.Parallel()
	for r, want := range map[app.Role]string{
		app.RoleAll:      "all",
		app.RoleProducer: "producer",
		app.RoleConsumer: "consumer",
		app.Role(9):      "Role(9)",
	} {
		if got := r.String(); got != want {
			t.Errorf("Role(%d).String() = %q, want %q", int(r), got, want)
		}
	}
}

func TestProducer_PublishesDetections(t *testing.T) {
	t.Parallel()
	tr := &mock.Transport{}
	a, err := app.New(context.Background(), testConfig(), app.RoleProducer,
		app.WithTransport(tr),
		app.WithSource(audio.NewSilenceSource(40)),
		app.WithTimeline(bedroomTimeline()),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := decodeSent(t, tr)
	if len(sent) != 4 {
		t.Fatalf("sent %d payloads, want 4: %v", len(sent), sent)
	}
	if p := sent[0]; p.HasEvent || !p.SourceActive {
		t.Errorf("heartbeat = %v, want active without event", p)
	}
	if p := sent[1]; !p.HasEvent || p.Event != payload.EventWake || p.IntentName != "" {
		t.Errorf("wake payload = %v", p)
	}
	want := payload.DetectionPayload{
		SourceActive:    true,
		HasEvent:        true,
		Event:           "turn on the bedroom lights",
		IntentName:      "TurnOnLights",
		IntentParamText: "bedroom",
	}
	if sent[2] != want {
		t.Errorf("command payload = %v, want %v", sent[2], want)
	}
	if p := sent[3]; p.SourceActive || p.HasEvent {
		t.Errorf("final payload = %v, want inactive without event", p)
	}
}

func TestProducer_TimeoutEvent(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Assistant.PreSilenceTimeout = 50 * time.Millisecond

	tr := &mock.Transport{}
	a, err := app.New(context.Background(), cfg, app.RoleProducer,
		app.WithTransport(tr),
		app.WithSource(audio.NewSilenceSource(30)),
		app.WithTimeline(&script.Timeline{WakeWords: []int{0}}),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var tags []string
	for _, p := range decodeSent(t, tr) {
		if p.HasEvent {
			tags = append(tags, p.Event)
		}
	}
	if len(tags) != 2 || tags[0] != payload.EventWake || tags[1] != payload.EventTimeout {
		t.Errorf("event tags = %v, want [WAKE TIMEOUT]", tags)
	}
}

func TestProducer_LicenseStops(t *testing.T) {
	t.Parallel()
	tl := bedroomTimeline()
	tl.LicenseExpiresAtFrame = 3

	tr := &mock.Transport{}
	a, err := app.New(context.Background(), testConfig(), app.RoleProducer,
		app.WithTransport(tr),
		app.WithSource(audio.NewSilenceSource(0)),
		app.WithTimeline(tl),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	err = a.Run(context.Background())
	if !errors.Is(err, detect.ErrLicenseRestricted) {
		t.Fatalf("Run error = %v, want ErrLicenseRestricted", err)
	}
	checks := a.Checkers()
	if len(checks) != 1 || checks[0].Name != "producer" {
		t.Fatalf("checkers = %v", checks)
	}
	if err := checks[0].Check(context.Background()); !errors.Is(err, detect.ErrLicenseRestricted) {
		t.Errorf("producer check = %v, want license error", err)
	}
}

func TestProducer_TransportFailureIsFatal(t *testing.T) {
	t.Parallel()
	tr := &mock.Transport{SendErr: errors.New("region wedged")}
	a, err := app.New(context.Background(), testConfig(), app.RoleProducer,
		app.WithTransport(tr),
		app.WithSource(audio.NewSilenceSource(10)),
		app.WithTimeline(bedroomTimeline()),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := a.Run(context.Background()); !errors.Is(err, mailbox.ErrTransport) {
		t.Fatalf("Run error = %v, want ErrTransport", err)
	}
	if n := len(tr.Sent()); n != 1 {
		t.Errorf("send attempts = %d, want 1", n)
	}
}

func TestConsumer_Sessions(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Mailbox.FetchAttempts = 2
	cfg.App.MaxMessages = 2
	cfg.App.Sessions = 2

	var (
		mu    sync.Mutex
		snaps []lights.Telemetry
	)
	record := func(_ context.Context, tm lights.Telemetry) {
		mu.Lock()
		snaps = append(snaps, tm)
		mu.Unlock()
	}
	tr := &mock.Transport{}
	ctrl := lights.New()
	a, err := app.New(context.Background(), cfg, app.RoleConsumer,
		app.WithTransport(tr),
		app.WithLights(ctrl),
		app.WithTelemetrySink(record),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	checks := a.Checkers()
	if len(checks) != 1 || !errors.Is(checks[0].Check(context.Background()), app.ErrNoTraffic) {
		t.Fatalf("mailbox check before traffic = %v", checks)
	}

	// A single detection and no heartbeat after it: only the first snapshot
	// may report the event.
	for _, p := range []payload.DetectionPayload{
		{
			SourceActive:    true,
			HasEvent:        true,
			Event:           "turn off the living room lights",
			IntentName:      "TurnOffLights",
			IntentParamText: "living room",
		},
	} {
		msg, err := mailbox.EncodeMessage(&mailbox.Message{
			ClientID: mailbox.ConsumerEndpoint.ClientID,
			Payload:  p,
		})
		if err != nil {
			t.Fatalf("EncodeMessage: %v", err)
		}
		if !tr.Deliver(mailbox.ConsumerEndpoint, msg) {
			t.Fatal("consumer handler not registered")
		}
	}

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := checks[0].Check(context.Background()); err != nil {
		t.Errorf("mailbox check after traffic = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// Two sessions of one initial snapshot plus two fetches each.
	if len(snaps) != 6 {
		t.Fatalf("snapshots = %d, want 6", len(snaps))
	}
	first := snaps[0]
	if !first.HasEvent || first.LivingRoom != 0 || first.Event != "turn off the living room lights" {
		t.Errorf("first snapshot = %+v", first)
	}
	for i, s := range snaps[1:] {
		if s.HasEvent {
			t.Errorf("snapshot %d has an event, want none: %+v", i+1, s)
		}
		if s.Version != lights.Version || !s.MicrophoneActive {
			t.Errorf("snapshot %d = %+v", i+1, s)
		}
	}
	if got := ctrl.Level(lights.LivingRoom); got != 0 {
		t.Errorf("living room level = %d, want 0", got)
	}
}

func TestRun_InProcess(t *testing.T) {
	t.Parallel()
	ctrl := lights.New()
	a, err := app.New(context.Background(), testConfig(), app.RoleAll,
		app.WithSource(audio.NewSilenceSource(40)),
		app.WithTimeline(bedroomTimeline()),
		app.WithLights(ctrl),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.MailboxHandler() != nil {
		t.Error("in-process app exposes a mailbox handler")
	}
	if got := len(a.Checkers()); got != 2 {
		t.Errorf("checkers = %d, want 2", got)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ctrl.Level(lights.Bedroom); got != lights.LevelMax {
		t.Errorf("bedroom level = %d, want %d", got, lights.LevelMax)
	}
}

func TestRun_CancelIsNotAnError(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), app.RoleAll,
		app.WithSource(audio.NewSilenceSource(0, audio.WithRealtime())),
		app.WithTimeline(&script.Timeline{}),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
}

func TestRun_SplitOverWebSocket(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Mailbox.Transport = config.TransportWebSocket

	ctrl := lights.New()
	consumer, err := app.New(context.Background(), cfg, app.RoleConsumer,
		app.WithLights(ctrl),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New consumer: %v", err)
	}
	defer consumer.Shutdown(context.Background())

	h := consumer.MailboxHandler()
	if h == nil {
		t.Fatal("consumer has no mailbox handler")
	}
	mux := http.NewServeMux()
	mux.Handle(config.DefaultMailboxPath, h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pcfg := testConfig()
	pcfg.Mailbox.Transport = config.TransportWebSocket
	pcfg.Mailbox.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + config.DefaultMailboxPath
	producer, err := app.New(context.Background(), pcfg, app.RoleProducer,
		app.WithSource(audio.NewSilenceSource(40)),
		app.WithTimeline(bedroomTimeline()),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New producer: %v", err)
	}
	defer producer.Shutdown(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- consumer.Run(context.Background()) }()
	if err := producer.Run(context.Background()); err != nil {
		t.Fatalf("producer Run: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("consumer Run: %v", err)
	}
	if got := ctrl.Level(lights.Bedroom); got != lights.LevelMax {
		t.Errorf("bedroom level = %d, want %d", got, lights.LevelMax)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		role   app.Role
		mutate func(*config.Config)
	}{
		{"websocket in one process", app.RoleAll, func(c *config.Config) { c.Mailbox.Transport = config.TransportWebSocket }},
		{"pipe for split producer", app.RoleProducer, func(*config.Config) {}},
		{"unknown model", app.RoleConsumer, func(c *config.Config) { c.Assistant.Model = "coffee_maker" }},
		{"missing model file", app.RoleConsumer, func(c *config.Config) { c.Assistant.ModelFile = "/nonexistent/model.yaml" }},
		{"missing pcm file", app.RoleAll, func(c *config.Config) {
			c.Source.Kind = config.SourcePCM
			c.Source.Path = "/nonexistent/audio.raw"
		}},
		{"missing timeline", app.RoleAll, func(c *config.Config) { c.Scenario.Timeline = "/nonexistent/timeline.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(cfg)
			if _, err := app.New(context.Background(), cfg, tt.role, app.WithLogger(quietLogger())); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

func TestNew_ProducerGivesUpDialing(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + config.DefaultMailboxPath
	srv.Close()

	cfg := testConfig()
	cfg.Mailbox.Transport = config.TransportWebSocket
	cfg.Mailbox.URL = url

	start := time.Now()
	_, err := app.New(context.Background(), cfg, app.RoleProducer,
		app.WithSource(audio.NewSilenceSource(1)),
		app.WithDialPolicy(app.DialPolicy{Attempts: 3, Backoff: 5 * time.Millisecond, MaxBackoff: 8 * time.Millisecond}),
		app.WithLogger(quietLogger()),
	)
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("New error = %v, want dial failure after 3 attempts", err)
	}
	// Two waits: 5ms then 8ms.
	if d := time.Since(start); d < 13*time.Millisecond {
		t.Errorf("gave up after %v, want at least 13ms of backoff", d)
	}
}

package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withTestTracing installs an in-memory tracer provider globally for the
// duration of the test.
func withTestTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })
	return exp
}

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _ := newTestMetrics(t)
	withTestTracing(t)

	var captured string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))
	rec := serve(h, "/readyz", nil)

	if len(captured) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", captured)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != captured {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, captured)
	}
}

func TestMiddleware_SpanAndStatus(t *testing.T) {
	m, _ := newTestMetrics(t)
	exp := withTestTracing(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	rec := serve(h, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var found bool
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 503 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	withTestTracing(t)

	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serve(h, "/metrics", nil)

	met := findMetric(collect(t, reader), "vabridge.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %#v", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	if v, ok := dp.Attributes.Value("path"); !ok || v.AsString() != "/metrics" {
		t.Errorf("path attribute = %v", v)
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _ := newTestMetrics(t)
	withTestTracing(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var captured string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))
	rec := serve(h, "/healthz", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})

	if captured != traceID {
		t.Errorf("correlation ID = %q, want %q", captured, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, traceID)
	}
}

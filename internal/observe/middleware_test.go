package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// serve runs one request through the middleware with a trivial handler.
func serve(t *testing.T, m *Metrics, target string, status int) *httptest.ResponseRecorder {
	t.Helper()
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func TestRouteOf(t *testing.T) {
	cases := []struct {
		path, route, session string
	}{
		{"/ws/abc-123", "/ws/{session_id}", "abc-123"},
		{"/ws/", "/ws/", ""},
		{"/healthz", "/healthz", ""},
		{"/metrics", "/metrics", ""},
	}
	for _, tc := range cases {
		route, session := routeOf(tc.path)
		if route != tc.route || session != tc.session {
			t.Errorf("routeOf(%q) = (%q, %q), want (%q, %q)", tc.path, route, session, tc.route, tc.session)
		}
	}
}

func TestMiddlewareSetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var capturedCID string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if capturedCID == "" {
		t.Fatal("middleware did not set a correlation id in context")
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != capturedCID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, capturedCID)
	}
}

func TestMiddlewareNamesSpanAfterRoute(t *testing.T) {
	m, _, exp := testSetup(t)

	serve(t, m, "/healthz", http.StatusOK)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /healthz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /healthz")
	}
}

func TestMiddlewareTagsSessionOnClientChannel(t *testing.T) {
	m, reader, exp := testSetup(t)

	serve(t, m, "/ws/sess-42", http.StatusOK)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /ws/{session_id}" {
		t.Errorf("span name = %q, want the collapsed route", spans[0].Name)
	}
	var sessionTagged bool
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "session.id" && a.Value.AsString() == "sess-42" {
			sessionTagged = true
		}
	}
	if !sessionTagged {
		t.Error("span missing session.id attribute")
	}

	// The metric label must carry the collapsed route, not the raw path.
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "tankd.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("no histogram data points")
	}
	var routeLabel string
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		if string(kv.Key) == "route" {
			routeLabel = kv.Value.AsString()
		}
	}
	if routeLabel != "/ws/{session_id}" {
		t.Errorf("route label = %q, want %q", routeLabel, "/ws/{session_id}")
	}
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	m, reader, _ := testSetup(t)

	serve(t, m, "/readyz", http.StatusOK)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "tankd.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if dp := hist.DataPoints[0]; dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
}

func TestMiddlewareCapturesStatusCode(t *testing.T) {
	m, _, exp := testSetup(t)

	rec := serve(t, m, "/not-found", http.StatusNotFound)
	if rec.Code != http.StatusNotFound {
		t.Errorf("response status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	var found bool
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddlewarePropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var capturedCID string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if capturedCID != traceID {
		t.Errorf("correlation id = %q, want incoming trace id %q", capturedCID, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, traceID)
	}
}

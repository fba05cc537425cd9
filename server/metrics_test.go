package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInstrument(t *testing.T) {
	m, err := NewMetrics(nil, "probe")
	if err != nil {
		t.Fatalf("unable to create metrics: %s", err)
	}
	d := NewRouterBuilder().
		Get("/health", func(c *RequestContext) error { return c.OK() }).
		Get("/broken", func(c *RequestContext) error { return io.ErrUnexpectedEOF }).
		Build()
	h := m.Instrument("app", d, NewPipeline(d))

	requests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/health?x=1"},
		{http.MethodPost, "/health"},
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/broken"},
		{"BREW", "/health"},
	}
	for _, r := range requests {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.target, nil))
	}

	tests := []struct {
		labels []string
		want   float64
	}{
		{[]string{"app", "health", "GET", "200"}, 2},
		{[]string{"app", NotFoundRoute, "POST", "404"}, 1},
		{[]string{"app", NotFoundRoute, "GET", "404"}, 1},
		{[]string{"app", "broken", "GET", "500"}, 1},
		{[]string{"app", NotFoundRoute, "OTHER", "404"}, 1},
	}
	for _, test := range tests {
		if got := testutil.ToFloat64(m.requests.WithLabelValues(test.labels...)); got != test.want {
			t.Errorf("requests_total%v expected %v, got %v", test.labels, test.want, got)
		}
	}

	if got := testutil.ToFloat64(m.inFlight.WithLabelValues("app")); got != 0 {
		t.Errorf("expected no requests in flight, got %v", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 5 {
		t.Errorf("expected 5 duration series, got %d", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "probe")
	if err != nil {
		t.Fatalf("unable to create metrics: %s", err)
	}
	m.requests.WithLabelValues("metrics", "health", "GET", "200").Inc()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 response code, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `probe_http_requests_total{code="200",handler="health",method="GET",server="metrics"} 1`) {
		t.Errorf("expected the counter in the exposition, got:\n%s", w.Body.String())
	}

	if _, err := NewMetrics(reg, "probe"); err == nil {
		t.Error("expected registering the same collectors twice to fail")
	}
}

func TestMethodLabel(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{http.MethodGet, "GET"},
		{http.MethodOptions, "OPTIONS"},
		{"get", "OTHER"},
		{"PROPFIND", "OTHER"},
	}
	for _, test := range tests {
		if got := methodLabel(test.method); got != test.want {
			t.Errorf("methodLabel(%q) expected %q, got %q", test.method, test.want, got)
		}
	}
}

func TestMetricsResponseWriterStatus(t *testing.T) {
	w := newMetricsResponseWriter(httptest.NewRecorder())
	w.Write([]byte("implicit"))
	if w.StatusCode != http.StatusOK {
		t.Errorf("expected an implicit 200, got %d", w.StatusCode)
	}

	w = newMetricsResponseWriter(httptest.NewRecorder())
	w.WriteHeader(http.StatusNotFound)
	w.WriteHeader(http.StatusInternalServerError)
	if w.StatusCode != http.StatusNotFound {
		t.Errorf("expected the first status to stick, got %d", w.StatusCode)
	}
}

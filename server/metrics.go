package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors shared by every Server it is given
// to. Servers are told apart by the 'server' label.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the server collectors and registers them with reg.
// A nil reg means a fresh prometheus.Registry.
func NewMetrics(reg *prometheus.Registry, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of responses by server, route, method and status code.",
		}, []string{"server", "handler", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving requests by server, route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "handler", "method"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}, []string{"server"}),
		gatherer: reg,
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler returns the prometheus exposition handler for the registry the
// collectors were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument wraps h so every response it writes is counted and timed. The
// handler label is the registered path the request matched without its
// leading slash ("/debug/pprof/" is labelled "debug/pprof/"), or "__404__".
func (m *Metrics) Instrument(server string, d *Dispatcher, h http.Handler) http.Handler {
	inFlight := m.inFlight.WithLabelValues(server)
	return http.HandlerFunc(func(w0 http.ResponseWriter, r *http.Request) {
		route := strings.TrimPrefix(d.route(r), "/")
		method := methodLabel(r.Method)
		w := newMetricsResponseWriter(w0)

		inFlight.Inc()
		defer func(start time.Time) {
			inFlight.Dec()
			m.duration.WithLabelValues(server, route, method).Observe(time.Since(start).Seconds())
			m.requests.WithLabelValues(server, route, method, strconv.Itoa(w.StatusCode)).Inc()
		}(time.Now())

		h.ServeHTTP(w, r)
	})
}

// methodLabel keeps arbitrary client methods out of the label space.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	}
	return "OTHER"
}

// metricsResponseWriter grabs the StatusCode.
type metricsResponseWriter struct {
	w           http.ResponseWriter
	StatusCode  int
	wroteHeader bool
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{w: w, StatusCode: http.StatusOK}
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.w.Write(b)
}

func (w *metricsResponseWriter) Header() http.Header {
	return w.w.Header()
}

func (w *metricsResponseWriter) WriteHeader(h int) {
	if !w.wroteHeader {
		w.StatusCode = h
		w.wroteHeader = true
	}
	w.w.WriteHeader(h)
}

func (w *metricsResponseWriter) Flush() {
	if f, ok := w.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.w
}

func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not implement hijacker")
	}
	return h.Hijack()
}

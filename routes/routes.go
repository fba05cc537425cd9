// Package routes builds the route tables of the application server and the
// metrics server.
package routes

import (
	"net/http"
	"net/http/pprof"

	"github.com/NYTimes/probe/healthcheck"
	"github.com/NYTimes/probe/server"
)

// MetricsOptions selects the optional endpoints of the metrics server.
type MetricsOptions struct {
	// Metrics, if set, is served with GET on MetricsPath.
	Metrics     http.Handler
	MetricsPath string
	// EnablePProf registers the pprof endpoints under /debug/pprof/.
	EnablePProf bool
}

// NewAppRouter returns the route table of the application server.
func NewAppRouter(hc healthcheck.Handler) *server.Dispatcher {
	return server.NewRouterBuilder().
		Get(hc.Path(), hc.Check).
		Build()
}

// NewMetricsRouter returns the route table of the metrics server: the health
// check plus whatever opts enables.
func NewMetricsRouter(hc healthcheck.Handler, opts MetricsOptions) *server.Dispatcher {
	b := server.NewRouterBuilder().Get(hc.Path(), hc.Check)
	if opts.Metrics != nil && opts.MetricsPath != "" {
		b.HTTPHandler(http.MethodGet, opts.MetricsPath, opts.Metrics)
	}
	if opts.EnablePProf {
		RegisterProfiler(b)
	}
	return b.Build()
}

// RegisterProfiler will add handlers for pprof endpoints. Routes match
// exactly, so every profile linked from the index page is registered.
func RegisterProfiler(b *server.RouterBuilder) {
	b.HTTPHandler(http.MethodGet, "/debug/pprof/", http.HandlerFunc(pprof.Index))
	b.HTTPHandler(http.MethodGet, "/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	b.HTTPHandler(http.MethodGet, "/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	b.HTTPHandler(http.MethodGet, "/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	b.HTTPHandler(http.MethodPost, "/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	b.HTTPHandler(http.MethodGet, "/debug/pprof/trace", http.HandlerFunc(pprof.Trace))

	// Manually add support for paths linked to by index page at /debug/pprof/
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		b.HTTPHandler(http.MethodGet, "/debug/pprof/"+name, pprof.Handler(name))
	}
}

package server

import (
	"net/http"
	"sync"
)

// RouterBuilder accumulates method+path registrations and freezes them into
// a Dispatcher. Registration is safe for concurrent use. The last
// registration for a given method and path wins.
//
//	router := server.NewRouterBuilder().
//		Get("/health", func(c *server.RequestContext) error { return c.OK() }).
//		Build()
type RouterBuilder struct {
	mu     sync.Mutex
	routes map[string]Handler
}

// NewRouterBuilder returns an empty RouterBuilder.
func NewRouterBuilder() *RouterBuilder {
	return &RouterBuilder{routes: map[string]Handler{}}
}

// Handle registers h under method and path. Paths are matched exactly and
// must not carry a query string.
func (b *RouterBuilder) Handle(method, path string, h Handler) *RouterBuilder {
	b.mu.Lock()
	b.routes[routeKey(method, path)] = h
	b.mu.Unlock()
	return b
}

// Get registers a GET route.
func (b *RouterBuilder) Get(path string, h Handler) *RouterBuilder {
	return b.Handle(http.MethodGet, path, h)
}

// Post registers a POST route.
func (b *RouterBuilder) Post(path string, h Handler) *RouterBuilder {
	return b.Handle(http.MethodPost, path, h)
}

// Put registers a PUT route.
func (b *RouterBuilder) Put(path string, h Handler) *RouterBuilder {
	return b.Handle(http.MethodPut, path, h)
}

// Delete registers a DELETE route.
func (b *RouterBuilder) Delete(path string, h Handler) *RouterBuilder {
	return b.Handle(http.MethodDelete, path, h)
}

// HTTPHandler registers a plain http.Handler under method and path. The
// handler sees the aggregated body through r.Body. If it panics before
// writing anything the client gets a 500 like any other failed Handler.
func (b *RouterBuilder) HTTPHandler(method, path string, h http.Handler) *RouterBuilder {
	return b.Handle(method, path, func(c *RequestContext) error {
		h.ServeHTTP(&claimingResponseWriter{ResponseWriter: c.w, c: c}, c.r)
		return nil
	})
}

// claimingResponseWriter marks its RequestContext as written on the first
// WriteHeader or Write.
type claimingResponseWriter struct {
	http.ResponseWriter
	c *RequestContext
}

func (w *claimingResponseWriter) WriteHeader(code int) {
	w.c.written.Store(true)
	w.ResponseWriter.WriteHeader(code)
}

func (w *claimingResponseWriter) Write(b []byte) (int, error) {
	w.c.written.Store(true)
	return w.ResponseWriter.Write(b)
}

func (w *claimingResponseWriter) Flush() {
	w.c.written.Store(true)
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *claimingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Build snapshots the current registrations into an immutable Dispatcher.
// Registrations made afterwards do not affect it.
func (b *RouterBuilder) Build() *Dispatcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	table := make(map[string]Handler, len(b.routes))
	for k, h := range b.routes {
		table[k] = h
	}
	return &Dispatcher{routes: table}
}

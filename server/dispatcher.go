package server

import (
	"net/http"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Handler handles a single request by writing exactly one response through
// the RequestContext. A returned error is a handler failure: it is logged and
// converted into a 500 response.
type Handler func(*RequestContext) error

// Router produces the Dispatcher installed as the last stage of every
// connection pipeline.
type Router interface {
	Dispatcher() *Dispatcher
}

// NotFoundRoute is the handler label used for requests that match no route.
const NotFoundRoute = "__404__"

// Dispatcher is the read-only, request-serving view of a built route table.
// It is safe for concurrent use by every connection of every server it is
// installed on.
type Dispatcher struct {
	routes map[string]Handler
}

// Dispatcher returns d so a *Dispatcher can be used wherever a Router is needed.
func (d *Dispatcher) Dispatcher() *Dispatcher {
	return d
}

// Lookup returns the handler registered for method and path. Any query
// string on path is ignored.
func (d *Dispatcher) Lookup(method, path string) (Handler, bool) {
	h, ok := d.routes[routeKey(method, stripQuery(path, ""))]
	return h, ok
}

// Routes returns the sorted route keys of the table.
func (d *Dispatcher) Routes() []string {
	keys := make([]string, 0, len(d.routes))
	for k := range d.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// route returns the registered path for r, leading slash included, or
// NotFoundRoute.
func (d *Dispatcher) route(r *http.Request) string {
	path := requestPath(r)
	if _, ok := d.routes[routeKey(r.Method, path)]; ok {
		return path
	}
	return NotFoundRoute
}

// ServeHTTP is the dispatch stage. It expects the request body to have been
// buffered by the aggregation stage.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.Dispatch(NewRequestContext(w, r, aggregatedBody(r)))
}

// Dispatch looks up the handler for c and invokes it. Unmatched routes get a
// 404 and failed handlers get a 500; every request gets exactly one response.
func (d *Dispatcher) Dispatch(c *RequestContext) {
	h, ok := d.routes[routeKey(c.Method(), c.Path())]
	if !ok {
		if err := c.WriteText(http.StatusNotFound, "Not Found"); err != nil {
			LogWithFields(c.r).Warn("unable to write response: ", err)
		}
		return
	}

	err := invoke(h, c)
	if err == nil {
		return
	}
	LogWithFields(c.r).WithError(err).Error("route handler failed")
	if c.Written() {
		// the handler already answered; the client keeps that response
		return
	}
	if err := c.WriteText(http.StatusInternalServerError, "Internal Server Error"); err != nil {
		LogWithFields(c.r).Warn("unable to write response: ", err)
	}
}

// invoke will prevent a panic in a handler from bringing the connection down.
func invoke(h Handler, c *RequestContext) (err error) {
	defer func() {
		if x := recover(); x != nil {
			if x == http.ErrAbortHandler {
				panic(x)
			}
			LogWithFields(c.r).Errorf("dispatcher recovered from a panic\n%v: %v", x, string(debug.Stack()))
			err = errors.Errorf("handler panic: %v", x)
		}
	}()
	return h(c)
}

func routeKey(method, path string) string {
	return method + " " + path
}

// stripQuery returns uri up to the first '?'. An empty uri yields fallback.
func stripQuery(uri, fallback string) string {
	if uri == "" {
		return fallback
	}
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

func requestPath(r *http.Request) string {
	return stripQuery(r.RequestURI, r.URL.Path)
}

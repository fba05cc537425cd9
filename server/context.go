package server

import (
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"golang.org/x/net/http/httpguts"
)

// TextContentType is the content type used for every plain text response.
const TextContentType = "text/plain; charset=UTF-8"

// RequestContext binds one fully aggregated request to the connection it
// arrived on. It is the only way a Handler produces a response.
//
// A RequestContext writes at most one response. The first write wins and any
// later write returns ErrResponseWritten without touching the connection.
type RequestContext struct {
	w         http.ResponseWriter
	r         *http.Request
	body      []byte
	path      string
	keepAlive bool

	written atomic.Bool
}

// NewRequestContext builds a RequestContext for r and its buffered body.
// The keep-alive decision is made here, once, from the request headers.
func NewRequestContext(w http.ResponseWriter, r *http.Request, body []byte) *RequestContext {
	return &RequestContext{
		w:         w,
		r:         r,
		body:      body,
		path:      requestPath(r),
		keepAlive: isKeepAlive(r),
	}
}

// Method returns the request method.
func (c *RequestContext) Method() string { return c.r.Method }

// Path returns the request path with any query string removed.
func (c *RequestContext) Path() string { return c.path }

// URI returns the request target as it appeared on the request line.
func (c *RequestContext) URI() string { return c.r.RequestURI }

// Header returns the request headers.
func (c *RequestContext) Header() http.Header { return c.r.Header }

// Body returns the aggregated request body.
func (c *RequestContext) Body() []byte { return c.body }

// KeepAlive reports whether the connection stays open after the response.
func (c *RequestContext) KeepAlive() bool { return c.keepAlive }

// Request returns the underlying request.
func (c *RequestContext) Request() *http.Request { return c.r }

// Written reports whether a response has already been written.
func (c *RequestContext) Written() bool { return c.written.Load() }

// OK writes a 200 response with the body "OK".
func (c *RequestContext) OK() error {
	return c.WriteText(http.StatusOK, "OK")
}

// WriteText writes body as a UTF-8 plain text response with an exact
// Content-Length. If the request was not keep-alive the connection is closed
// once the response has been written.
func (c *RequestContext) WriteText(status int, body string) error {
	if !c.claim(status) {
		return ErrResponseWritten
	}
	h := c.w.Header()
	h.Set("Content-Type", TextContentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	c.setConnection(h)
	c.w.WriteHeader(status)
	_, err := io.WriteString(c.w, body)
	return err
}

// Stream writes a response whose body is read from src and sent with chunked
// transfer encoding, so bodies larger than a single write never need to be
// buffered by the caller.
func (c *RequestContext) Stream(status int, contentType string, src io.Reader) error {
	if !c.claim(status) {
		return ErrResponseWritten
	}
	h := c.w.Header()
	h.Set("Content-Type", contentType)
	h.Del("Content-Length")
	c.setConnection(h)
	c.w.WriteHeader(status)
	if cw, ok := c.w.(chunkWriter); ok {
		_, err := cw.WriteChunks(src)
		return err
	}
	_, err := io.Copy(c.w, src)
	return err
}

func (c *RequestContext) claim(status int) bool {
	if c.written.CompareAndSwap(false, true) {
		return true
	}
	LogWithFields(c.r).Warnf("dropping second response (status %d) for the same request", status)
	return false
}

func (c *RequestContext) setConnection(h http.Header) {
	if c.keepAlive {
		h.Set("Connection", "keep-alive")
		return
	}
	h.Set("Connection", "close")
}

// isKeepAlive follows HTTP/1.1 persistence rules: an explicit 'close' token
// always wins, HTTP/1.1 defaults to persistent and HTTP/1.0 needs an
// explicit 'keep-alive' token.
func isKeepAlive(r *http.Request) bool {
	conn := r.Header["Connection"]
	if httpguts.HeaderValuesContainsToken(conn, "close") {
		return false
	}
	if r.ProtoAtLeast(1, 1) {
		return true
	}
	return httpguts.HeaderValuesContainsToken(conn, "keep-alive")
}

package healthcheck

import (
	"github.com/NYTimes/probe/server"
)

// DefaultPath is the path the health check is served on when none is given.
const DefaultPath = "/health"

// Handler is an interface used by the routes package to register a health
// check on each server.
type Handler interface {
	Path() string
	Check(*server.RequestContext) error
}

// NewHandler will return a Simple health check for path, or for DefaultPath
// if path is empty.
func NewHandler(path string) Handler {
	if path == "" {
		path = DefaultPath
	}
	return NewSimple(path)
}

// Simple is a basic Handler implementation
// that _always_ responds with an "OK" status.
type Simple struct {
	path string
}

// NewSimple will return a new Simple instance.
func NewSimple(path string) *Simple {
	return &Simple{path: path}
}

// Path will return the configured status path to serve on.
func (s *Simple) Path() string {
	return s.path
}

// Check will always respond with a 200 and the body "OK".
func (s *Simple) Check(c *server.RequestContext) error {
	return c.OK()
}

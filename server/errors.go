package server

import (
	"errors"
	"fmt"
)

var (
	// ErrServerStopped is returned by Start when the server has already been stopped.
	// A Server cannot be restarted; build a new one instead.
	ErrServerStopped = errors.New("server: already stopped")

	// ErrServerStarted is returned by Start when called twice.
	ErrServerStarted = errors.New("server: already started")

	// ErrNoRouter is returned by Start when no Router was configured.
	ErrNoRouter = errors.New("server: no router configured")

	// ErrGroupClosed is returned when work is scheduled on a Group after Shutdown.
	ErrGroupClosed = errors.New("server: group is shut down")

	// ErrResponseWritten is returned when a RequestContext is asked to write
	// a second response. The first response is the one the client receives.
	ErrResponseWritten = errors.New("server: response already written")
)

// BindError is returned by Start when the listening socket cannot be bound.
// It is never retried by the server.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("server: unable to bind port %d: %s", e.Port, e.Err)
}

// Unwrap returns the underlying network error.
func (e *BindError) Unwrap() error {
	return e.Err
}

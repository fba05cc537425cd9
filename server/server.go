package server

import (
	"context"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options tune the transport of a Server. Zero values fall back to the defaults.
type Options struct {
	// MaxHeaderBytes limits the size of request headers. Default 1<<20.
	MaxHeaderBytes int
	// ReadTimeout bounds reading a whole request, body included. Default 10s.
	ReadTimeout time.Duration
	// IdleTimeout bounds how long a keep-alive connection waits for its
	// next request. Default 120s.
	IdleTimeout time.Duration
	// ShutdownTimeout bounds how long Stop waits for in-flight responses
	// before closing their connections. Default 10s.
	ShutdownTimeout time.Duration
	// AccessLog is the location of the Apache-style access log: a file path
	// or "stdout". Empty means no access log.
	AccessLog string
}

const (
	defaultMaxHeaderBytes  = 1 << 20
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

type state int

const (
	stateNew state = iota
	stateStarted
	stateStopped
)

// closedChan is returned by Done for servers that were never started.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Server binds a port and serves the connection pipeline for one Router.
// Configure it with the With* methods, then Start it. A stopped Server
// cannot be started again.
type Server struct {
	name      string
	id        string
	acceptors *Group
	workers   *Group

	port    int
	router  Router
	metrics *Metrics
	opts    Options

	mu       sync.Mutex
	state    state
	srv      *http.Server
	listener net.Listener
	closed   chan struct{}
}

// New returns a Server that runs its accept loop on acceptors and serves
// every request on a slot of workers. The same groups may be given to
// several servers, in either role. A nil group is replaced by a private one.
func New(acceptors, workers *Group) *Server {
	if acceptors == nil {
		acceptors = NewGroup("acceptor", 1)
	}
	if workers == nil {
		workers = NewGroup("worker", 0)
	}
	var id string
	if u, err := uuid.NewV4(); err == nil {
		id = u.String()
	}
	return &Server{
		name:      "server",
		id:        id,
		acceptors: acceptors,
		workers:   workers,
	}
}

// WithPort sets the TCP port to listen on. 0 picks an ephemeral port.
func (s *Server) WithPort(port int) *Server {
	s.port = port
	return s
}

// WithRouter sets the Router whose Dispatcher ends every connection pipeline.
func (s *Server) WithRouter(r Router) *Server {
	s.router = r
	return s
}

// WithName sets the name used in logs and metrics labels.
func (s *Server) WithName(name string) *Server {
	s.name = name
	return s
}

// WithMetrics instruments every request with m.
func (s *Server) WithMetrics(m *Metrics) *Server {
	s.metrics = m
	return s
}

// WithOptions overrides the transport defaults.
func (s *Server) WithOptions(o Options) *Server {
	s.opts = o
	return s
}

// Name returns the configured server name.
func (s *Server) Name() string {
	return s.name
}

// Start binds the configured port and begins accepting connections. A port
// that cannot be bound yields a *BindError; Start does not retry.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateStarted:
		return ErrServerStarted
	case stateStopped:
		return ErrServerStopped
	}
	if s.router == nil {
		return ErrNoRouter
	}
	if s.port < 0 || s.port > 65535 {
		return &BindError{Port: s.port, Err: errors.Errorf("port out of range")}
	}

	handler, err := s.pipeline()
	if err != nil {
		return errors.Wrap(err, "unable to build connection pipeline")
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return &BindError{Port: s.port, Err: err}
	}

	errLog := s.log().WriterLevel(logrus.WarnLevel)
	srv := &http.Server{
		Handler:        handler,
		MaxHeaderBytes: s.opts.MaxHeaderBytes,
		ReadTimeout:    s.opts.ReadTimeout,
		IdleTimeout:    s.opts.IdleTimeout,
		ErrorLog:       stdlog.New(errLog, "", 0),
	}
	if srv.MaxHeaderBytes == 0 {
		srv.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = defaultReadTimeout
	}
	if srv.IdleTimeout == 0 {
		srv.IdleTimeout = defaultIdleTimeout
	}

	closed := make(chan struct{})
	err = s.acceptors.Go(func() {
		defer close(closed)
		defer errLog.Close()
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			s.log().WithError(err).Error("encountered an error while serving listener")
		}
	})
	if err != nil {
		errLog.Close()
		l.Close()
		return err
	}

	s.srv = srv
	s.listener = l
	s.closed = closed
	s.state = stateStarted
	s.log().Infof("listening on %s", l.Addr())
	return nil
}

// Stop closes the listening socket and waits for in-flight responses to be
// written. Connections still busy after the shutdown timeout are closed.
// Stopping a server that is not running is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != stateStarted {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	srv, closed := s.srv, s.closed
	s.mu.Unlock()

	s.log().Info("stopping server")
	timeout := s.opts.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		s.log().Warnf("server still active after %s, closing remaining connections: %s", timeout, err)
		srv.Close()
		err = errors.Wrap(err, "server did not shut down gracefully")
	}
	<-closed
	return err
}

// Wait blocks until the listening socket of a started server is closed. It
// returns immediately if the server was never started. It must not be
// called from a Handler.
func (s *Server) Wait() {
	<-s.Done()
}

// Done returns a channel that is closed once the listening socket is closed.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		return closedChan
	}
	return s.closed
}

// Addr returns the bound address, or nil if the server was never started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound port, or the configured port before Start.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.port
}

func (s *Server) pipeline() (http.Handler, error) {
	d := s.router.Dispatcher()
	h := NewPipeline(d)
	if s.metrics != nil {
		h = s.metrics.Instrument(s.name, d, h)
	}
	return NewAccessLogMiddleware(s.opts.AccessLog, s.workers.Handler(h))
}

func (s *Server) log() *logrus.Entry {
	return Log.WithFields(logrus.Fields{"server": s.name, "server_id": s.id})
}

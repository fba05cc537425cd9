// Package servertest starts the application and metrics servers on ephemeral
// ports for tests.
package servertest

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/NYTimes/probe/healthcheck"
	"github.com/NYTimes/probe/routes"
	"github.com/NYTimes/probe/server"
)

// Fixture is a running pair of servers sharing one acceptor group and one
// worker group in swapped roles, the way the probe command runs them.
type Fixture struct {
	App     *server.Server
	Metrics *server.Server

	Acceptors *server.Group
	Workers   *server.Group

	Client *http.Client
}

// New starts a Fixture and registers its Close with t.Cleanup.
func New(t testing.TB) *Fixture {
	t.Helper()
	f, err := Start(routes.NewAppRouter(healthcheck.NewHandler("")),
		routes.NewMetricsRouter(healthcheck.NewHandler(""), routes.MetricsOptions{}))
	if err != nil {
		t.Fatalf("unable to start test servers: %s", err)
	}
	t.Cleanup(func() {
		if err := f.Close(); err != nil {
			t.Errorf("unable to stop test servers: %s", err)
		}
	})
	return f
}

// Start starts the application server with app and the metrics server with
// metrics, both on ephemeral ports.
func Start(app, metrics server.Router) (*Fixture, error) {
	f := newFixture(app, metrics)
	if err := f.start(); err != nil {
		return nil, err
	}
	return f, nil
}

func newFixture(app, metrics server.Router) *Fixture {
	f := &Fixture{
		Acceptors: server.NewGroup("acceptor", 1),
		Workers:   server.NewGroup("worker", 2),
		Client:    &http.Client{Timeout: 5 * time.Second},
	}
	f.App = server.New(f.Acceptors, f.Workers).WithName("app").WithRouter(app)
	f.Metrics = server.New(f.Workers, f.Acceptors).WithName("metrics").WithRouter(metrics)
	return f
}

// start starts both servers. On failure nothing is left running and both
// groups are released.
func (f *Fixture) start() error {
	if err := f.App.Start(); err != nil {
		f.shutdownGroups()
		return err
	}
	if err := f.Metrics.Start(); err != nil {
		f.App.Stop()
		f.shutdownGroups()
		return err
	}
	return nil
}

// AppURL returns the base URL of the application server.
func (f *Fixture) AppURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", f.App.Port())
}

// MetricsURL returns the base URL of the metrics server.
func (f *Fixture) MetricsURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", f.Metrics.Port())
}

// Close stops both servers and releases both groups. It is safe to call
// more than once.
func (f *Fixture) Close() error {
	f.Client.CloseIdleConnections()
	err := f.App.Stop()
	if merr := f.Metrics.Stop(); err == nil {
		err = merr
	}
	if gerr := f.shutdownGroups(); err == nil {
		err = gerr
	}
	return err
}

func (f *Fixture) shutdownGroups() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	for _, g := range []*server.Group{f.Acceptors, f.Workers} {
		if gerr := g.Shutdown(ctx); err == nil {
			err = gerr
		}
	}
	return err
}

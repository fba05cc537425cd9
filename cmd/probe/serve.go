package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/NYTimes/probe/config"
	"github.com/NYTimes/probe/healthcheck"
	"github.com/NYTimes/probe/routes"
	"github.com/NYTimes/probe/server"
)

const defaultGroupShutdownTimeout = 10 * time.Second

var (
	configFile string
	appPort    int
	metricPort int
	logFile    string
	logLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the application and metrics servers",
	Long: `Start the application and metrics servers and block until SIGINT or
SIGTERM. Flags override the config file, which is overridden by the
environment.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&configFile, "config", config.DefaultConfigLocation, "YAML config file")
	serveCmd.Flags().IntVar(&appPort, "app-port", 0, "Application server port (overrides config)")
	serveCmd.Flags().IntVar(&metricPort, "metric-port", 0, "Metrics server port (overrides config)")
	serveCmd.Flags().StringVar(&logFile, "log", "", "Application log location, 'dev' for stderr")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error or fatal")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := config.LoadEnvOverrides(cfg); err != nil {
		return err
	}
	cfg.Server.SetPortOverrides(appPort, metricPort)
	config.SetLogOverride(&cfg.Server.Log, logFile)
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := server.ConfigureLogging(cfg.Server.Log, cfg.Server.LogLevel, cfg.Server.LogJSONFormat); err != nil {
		return errors.Wrap(err, "unable to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

// serve starts both servers and blocks until ctx is done or one of them
// stops on its own, then stops both and releases both groups.
func serve(ctx context.Context, cfg *config.Config) error {
	p, err := newProbe(cfg)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	server.Log.WithFields(logrus.Fields{
		"app_port":    p.app.Port(),
		"metric_port": p.metrics.Port(),
		"data_store":  cfg.Lucene.DataStore,
	}).Info("probe started")

	select {
	case <-ctx.Done():
		server.Log.Info("received shutdown signal")
	case <-p.app.Done():
		server.Log.Warn("application server stopped unexpectedly")
	case <-p.metrics.Done():
		server.Log.Warn("metrics server stopped unexpectedly")
	}
	return p.Stop()
}

// probe is the application server and the metrics server with the two
// groups they share.
type probe struct {
	cfg *config.Server

	acceptors *server.Group
	workers   *server.Group

	app     *server.Server
	metrics *server.Server
}

func newProbe(cfg *config.Config) (*probe, error) {
	s := cfg.Server
	p := &probe{
		cfg:       s,
		acceptors: server.NewGroup("acceptor", s.AcceptorThreads),
		workers:   server.NewGroup("worker", s.WorkerThreads),
	}

	var (
		m    *server.Metrics
		opts routes.MetricsOptions
		err  error
	)
	if s.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if m, err = server.NewMetrics(reg, "probe"); err != nil {
			return nil, errors.Wrap(err, "unable to register metrics")
		}
		opts.Metrics, opts.MetricsPath = m.Handler(), s.MetricsPath
	}
	opts.EnablePProf = s.EnablePProf

	hc := healthcheck.NewHandler("")
	so := server.Options{
		MaxHeaderBytes:  s.MaxHeaderBytes,
		ReadTimeout:     s.ReadTimeout,
		IdleTimeout:     s.IdleTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
		AccessLog:       s.HTTPAccessLog,
	}

	// the metrics server runs on the same groups, roles swapped
	p.app = server.New(p.acceptors, p.workers).
		WithName("app").
		WithPort(s.AppPort).
		WithRouter(routes.NewAppRouter(hc)).
		WithOptions(so)
	p.metrics = server.New(p.workers, p.acceptors).
		WithName("metrics").
		WithPort(s.MetricPort).
		WithRouter(routes.NewMetricsRouter(hc, opts)).
		WithOptions(so)
	if m != nil {
		p.app.WithMetrics(m)
		p.metrics.WithMetrics(m)
	}
	return p, nil
}

// Start starts the application server, then the metrics server. If the
// metrics server cannot start the application server is stopped again.
func (p *probe) Start() error {
	if err := p.app.Start(); err != nil {
		p.shutdownGroups()
		return err
	}
	if err := p.metrics.Start(); err != nil {
		if serr := p.app.Stop(); serr != nil {
			server.Log.WithError(serr).Warn("unable to stop application server")
		}
		p.shutdownGroups()
		return err
	}
	return nil
}

// Stop stops both servers, then releases both groups.
func (p *probe) Stop() error {
	err := p.app.Stop()
	if merr := p.metrics.Stop(); err == nil {
		err = merr
	}
	if gerr := p.shutdownGroups(); err == nil {
		err = gerr
	}
	server.Log.Info("probe stopped")
	return err
}

func (p *probe) shutdownGroups() error {
	timeout := p.cfg.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultGroupShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var err error
	for _, g := range []*server.Group{p.acceptors, p.workers} {
		if gerr := g.Shutdown(ctx); gerr != nil && err == nil {
			err = errors.Wrapf(gerr, "unable to shut down %s group", g.Name())
		}
	}
	return err
}

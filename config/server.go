package config

import (
	"time"

	"github.com/pkg/errors"
)

// DefaultMetricsPath is where the prometheus exposition is served on the
// metrics port when metrics are enabled.
const DefaultMetricsPath = "/metrics"

// Server holds info required to configure the application and metrics
// servers.
type Server struct {
	// AppPort is the port the application server listens on.
	AppPort int `yaml:"app-port" envconfig:"APP_PORT"`
	// MetricPort is the port the metrics server listens on.
	MetricPort int `yaml:"metric-port" envconfig:"METRIC_PORT"`

	// AcceptorThreads is the size of the group running accept loops.
	// If empty, this will default to 1.
	AcceptorThreads int `yaml:"acceptor-threads" envconfig:"ACCEPTOR_THREADS"`
	// WorkerThreads is the size of the group serving requests. If empty,
	// this will default to twice GOMAXPROCS.
	WorkerThreads int `yaml:"worker-threads" envconfig:"WORKER_THREADS"`

	// MaxHeaderBytes can be used to override the default MaxHeaderBytes (1<<20).
	MaxHeaderBytes int `yaml:"max-header-bytes" envconfig:"MAX_HEADER_BYTES"`
	// ReadTimeout can be used to override the default read timeout of 10s.
	ReadTimeout time.Duration `yaml:"read-timeout" envconfig:"READ_TIMEOUT"`
	// IdleTimeout can be used to override the default keep-alive timeout of 120s.
	IdleTimeout time.Duration `yaml:"idle-timeout" envconfig:"IDLE_TIMEOUT"`
	// ShutdownTimeout can be used to override the default 10s given to
	// in-flight requests when the servers stop.
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout" envconfig:"SHUTDOWN_TIMEOUT"`

	// HTTPAccessLog is the location of the http access log. If it is empty,
	// no access logging will be done.
	HTTPAccessLog string `yaml:"http-access-log" envconfig:"HTTP_ACCESS_LOG"`
	// Log is the path to the application log.
	Log string `yaml:"log" envconfig:"APP_LOG"`
	// LogLevel will override the default log level of 'info'.
	LogLevel string `yaml:"log-level" envconfig:"APP_LOG_LEVEL"`
	// LogJSONFormat forces the JSON (true) or text (false) log format.
	LogJSONFormat *bool `yaml:"log-json-format" envconfig:"APP_LOG_JSON_FORMAT"`

	// EnableMetrics serves the prometheus exposition on the metrics port.
	EnableMetrics bool `yaml:"enable-metrics" envconfig:"ENABLE_METRICS"`
	// MetricsPath overrides DefaultMetricsPath.
	MetricsPath string `yaml:"metrics-path" envconfig:"METRICS_PATH"`
	// Enable pprof Profiling on the metrics port. Off by default.
	EnablePProf bool `yaml:"enable-pprof" envconfig:"ENABLE_PPROF"`
}

// Validate checks the ports and the tuning values.
func (s *Server) Validate() error {
	if err := validPort("server.app-port", s.AppPort); err != nil {
		return err
	}
	if err := validPort("server.metric-port", s.MetricPort); err != nil {
		return err
	}
	if s.AppPort == s.MetricPort {
		return errors.Errorf("server.app-port and server.metric-port must differ, both are %d", s.AppPort)
	}
	if s.AcceptorThreads < 0 || s.WorkerThreads < 0 {
		return errors.New("server thread counts must not be negative")
	}
	if s.ReadTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}
	return nil
}

func (s *Server) setDefaults() {
	if s.AcceptorThreads == 0 {
		s.AcceptorThreads = 1
	}
	if s.MetricsPath == "" {
		s.MetricsPath = DefaultMetricsPath
	}
}

func validPort(field string, port int) error {
	if port == 0 {
		return errors.Errorf("missing required field '%s'", field)
	}
	if port < 1 || port > 65535 {
		return errors.Errorf("%s %d is out of range", field, port)
	}
	return nil
}

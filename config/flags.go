package config

// SetLogOverride will check logCLI, the value of the '--log' command line
// flag, and override the given string pointer if it is set.
// If logCLI is set to "dev", the given log var will be set to "".
func SetLogOverride(log *string, logCLI string) {
	// if a user passes in 'dev' log flag, override the
	// App log to signal for stderr logging.
	if logCLI != "" {
		*log = logCLI
		if logCLI == "dev" {
			*log = ""
		}
	}
}

// SetPortOverrides replaces the configured ports with any non-zero port
// given on the command line.
func (s *Server) SetPortOverrides(appPort, metricPort int) {
	if appPort != 0 {
		s.AppPort = appPort
	}
	if metricPort != 0 {
		s.MetricPort = metricPort
	}
}

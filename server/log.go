package server

import (
	"net/http"
	"os"

	"github.com/NYTimes/logrotate"
	"github.com/sirupsen/logrus"
)

// Log is the global logger for the server package. Handler failures, lifecycle
// events and transport errors are all reported here. It can accept 'fields'
// to include with each log line: see LogWithFields(r).
var Log = logrus.New()

// LogWithFields will feed any request details into a logrus Entry.
func LogWithFields(r *http.Request) *logrus.Entry {
	return Log.WithFields(ContextFields(r))
}

// ContextFields will take a request and convert it to logrus Fields.
func ContextFields(r *http.Request) logrus.Fields {
	return logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"rawquery": r.URL.RawQuery,
	}
}

// ConfigureLogging points Log at the given location. If location is empty
// Log writes to stderr, otherwise it writes to a logrotate-aware file using
// the JSON formatter. jsonFormat, if set, overrides the formatter choice.
func ConfigureLogging(location, level string, jsonFormat *bool) error {
	useJSON := false
	if location != "" {
		lf, err := logrotate.NewFile(location)
		if err != nil {
			return err
		}
		Log.Out = lf
		// json output when writing to file
		useJSON = true
	} else {
		Log.Out = os.Stderr
	}
	if jsonFormat != nil {
		useJSON = *jsonFormat
	}
	if useJSON {
		Log.Formatter = &logrus.JSONFormatter{}
	} else {
		Log.Formatter = &logrus.TextFormatter{}
	}
	SetLogLevel(level)
	return nil
}

// SetLogLevel will set the appropriate logrus log level
// given the level name. Unknown names fall back to 'info'.
func SetLogLevel(level string) {
	switch level {
	case "debug":
		Log.SetLevel(logrus.DebugLevel)
	case "warn":
		Log.SetLevel(logrus.WarnLevel)
	case "error":
		Log.SetLevel(logrus.ErrorLevel)
	case "fatal":
		Log.SetLevel(logrus.FatalLevel)
	default:
		Log.SetLevel(logrus.InfoLevel)
	}
}

// Package sysutil holds process bootstrap helpers: log setup and environment
// flag parsing shared by the API and worker modes.
package sysutil

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps a LOG_LEVEL value to a zerolog level. Unknown values fall
// back to info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel sets the global zerolog level.
func SetLogLevel(lvl string) {
	zerolog.SetGlobalLevel(ParseLevel(lvl))
}

// NewLogger builds the process logger. pretty switches to the console writer
// used in development; otherwise lines are JSON.
func NewLogger(w io.Writer, pretty bool, service, mode string) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("mode", mode).
		Logger()
}

// IsTruthy reports whether an environment value means "on".
// Accepted (case-insensitive): 1, true, yes, y, on.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// FirstNonEmpty returns the first value that is not blank, unchanged.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

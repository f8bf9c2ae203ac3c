// Package logging configures zerolog for the ingest command and adapts it to
// the Printf-style logger the pipeline stages write to.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns a logger writing to w.
//
// Level values: "debug", "info", "warn", "error" (default: "info").
// Format values: "console", "json" (default: "console").
func Setup(w io.Writer, level, format string) zerolog.Logger {
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel converts a level name to a zerolog.Level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// warnMarkers flag stage lines that report a problem.
var warnMarkers = []string{"status=failed", "status=degraded", "status=refused", "status=inconsistent"}

// Stages adapts a zerolog logger to the stage loggers' Printf method. Lines
// are logged at info, or at warn when they carry a problem status.
type Stages struct {
	L zerolog.Logger
}

func (s Stages) Printf(format string, v ...any) {
	s.L.WithLevel(levelOf(format)).Msgf(format, v...)
}

func levelOf(format string) zerolog.Level {
	for _, m := range warnMarkers {
		if strings.Contains(format, m) {
			return zerolog.WarnLevel
		}
	}
	return zerolog.InfoLevel
}

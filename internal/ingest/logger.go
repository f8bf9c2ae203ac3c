package ingest

import (
	"io"
	"log"
	"time"
)

// Logger is the minimal logging interface used by the pipeline stages.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

var discard = log.New(io.Discard, "", 0)

func logfOf(l Logger) func(format string, v ...any) {
	if l == nil {
		return discard.Printf
	}
	return l.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

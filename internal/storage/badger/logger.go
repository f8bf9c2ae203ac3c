package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// zerologAdapter adapts a zerolog.Logger to the badger.Logger interface.
// Badger's info chatter is demoted to debug.
type zerologAdapter struct {
	logger zerolog.Logger
}

var _ badger.Logger = (*zerologAdapter)(nil)

func (l *zerologAdapter) Errorf(msg string, items ...any) {
	l.logger.Error().Msg(fmt.Sprintf(msg, items...))
}

func (l *zerologAdapter) Warningf(msg string, items ...any) {
	l.logger.Warn().Msg(fmt.Sprintf(msg, items...))
}

func (l *zerologAdapter) Infof(msg string, items ...any) {
	l.logger.Debug().Msg(fmt.Sprintf(msg, items...))
}

func (l *zerologAdapter) Debugf(msg string, items ...any) {
	l.logger.Trace().Msg(fmt.Sprintf(msg, items...))
}

package library

import (
	"strings"

	"go.uber.org/zap"
)

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func newBadgerLogger(l *zap.Logger) *badgerLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &badgerLogger{s: l.Named("badger").Sugar()}
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.s.Errorf(strings.TrimSuffix(format, "\n"), args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.s.Warnf(strings.TrimSuffix(format, "\n"), args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.s.Infof(strings.TrimSuffix(format, "\n"), args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.s.Debugf(strings.TrimSuffix(format, "\n"), args...)
}

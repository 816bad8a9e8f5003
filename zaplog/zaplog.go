// Package zaplog adapts go.uber.org/zap to the relmq.Logger interface.
package zaplog

import (
	"go.uber.org/zap"

	"github.com/relmq/relmq"
)

// Logger wraps a *zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ relmq.Logger = (*Logger)(nil)

// New wraps the given zap logger. A nil logger yields a no-op wrapper.
func New(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}

	return &Logger{sugar: l.Sugar()}
}

// NewDevelopment builds a development-mode logger, falling back to a no-op
// logger if construction fails.
func NewDevelopment() *Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}

	return New(l)
}

// NewProduction builds a production JSON logger, falling back to a no-op
// logger if construction fails.
func NewProduction() *Logger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}

	return New(l)
}

// Debug implements relmq.Logger.
func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info implements relmq.Logger.
func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn implements relmq.Logger.
func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error implements relmq.Logger.
func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

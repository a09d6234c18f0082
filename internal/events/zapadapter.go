// internal/events/zapadapter.go
package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// watermillZapAdapter bridges watermill's logging interface onto the
// application's zap logger. Watermill's Trace level maps to Debug; zap has
// nothing lower.
type watermillZapAdapter struct {
	logger *zap.Logger
}

var _ watermill.LoggerAdapter = (*watermillZapAdapter)(nil)

func newWatermillLogger(logger *zap.Logger) watermill.LoggerAdapter {
	return &watermillZapAdapter{logger: logger}
}

func (a *watermillZapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (a *watermillZapAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, zapFields(fields)...)
}

func (a *watermillZapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a *watermillZapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a *watermillZapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillZapAdapter{logger: a.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		out = append(out, zap.Any(key, value))
	}
	return out
}

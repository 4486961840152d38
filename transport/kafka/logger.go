package kafka

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

var _ watermill.LoggerAdapter = (*zapLogger)(nil)

// zapLogger routes watermill logs to zap. Debug and trace output is dropped
// unless enabled.
type zapLogger struct {
	log *zap.Logger

	trace,
	debug bool
}

// NewLoggerAdapter returns a watermill logger writing to log.
func NewLoggerAdapter(log *zap.Logger, debug bool) watermill.LoggerAdapter {
	return zapLogger{
		log:   log,
		debug: debug,
	}
}

func (l zapLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Error(msg, append(toFields(fields), zap.Error(err))...)
}

func (l zapLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info(msg, toFields(fields)...)
}

func (l zapLogger) Debug(msg string, fields watermill.LogFields) {
	if !l.debug {
		return
	}

	l.log.Debug(msg, toFields(fields)...)
}

func (l zapLogger) Trace(msg string, fields watermill.LogFields) {
	if !l.trace {
		return
	}

	l.log.Debug(msg, toFields(fields)...)
}

func (l zapLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zapLogger{
		log:   l.log.With(toFields(fields)...),
		trace: l.trace,
		debug: l.debug,
	}
}

func toFields(m watermill.LogFields) []zap.Field {
	fields := make([]zap.Field, 0, len(m))

	for k, v := range m {
		fields = append(fields, zap.Any(k, v))
	}

	return fields
}

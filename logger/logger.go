// Package logger builds the zap loggers used by artifacts and commands.
package logger

import (
	"fmt"

	"github.com/blendle/zapdriver"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewProduction returns a new *zap.Logger with structured JSON output.
// Logging is enabled at InfoLevel and above.
func NewProduction(service string) (*zap.Logger, error) {
	return newLoggerFromConfig(zapdriver.NewProductionConfig(), service)
}

// NewDevelopment returns a new *zap.Logger with structured JSON output.
// Logging is enabled at DebugLevel and above.
func NewDevelopment(service string) (*zap.Logger, error) {
	return newLoggerFromConfig(zapdriver.NewDevelopmentConfig(), service)
}

// New returns a development logger when development is true, a production
// logger otherwise.
func New(service string, development bool) (*zap.Logger, error) {
	if development {
		return NewDevelopment(service)
	}

	return NewProduction(service)
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}

	return log
}

func newLoggerFromConfig(cfg zap.Config, service string) (*zap.Logger, error) {
	cfg.OutputPaths = []string{"stdout"}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{
		"service": service,
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("config build: %w", err)
	}

	return log, nil
}

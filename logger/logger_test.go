package logger_test

import (
	"testing"

	"github.com/purposeinplay/go-artifact/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	dev, err := logger.New("artifactd", true)
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zapcore.DebugLevel))

	prod, err := logger.New("artifactd", false)
	require.NoError(t, err)
	require.False(t, prod.Core().Enabled(zapcore.DebugLevel))
	require.True(t, prod.Core().Enabled(zapcore.InfoLevel))
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	require.NotNil(t, logger.OrNop(nil))
}

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready", zap.Bool("development", dev))
		_ = logger.Sync()
	}
}

func TestComponentNamesChild(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	child := Component(zap.New(core), "media")
	child.Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "media", entries[0].LoggerName)
}

func TestComponentNilBase(t *testing.T) {
	t.Parallel()

	logger := Component(nil, "sheets")
	require.NotNil(t, logger)
	logger.Info("dropped")
}

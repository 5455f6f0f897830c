package utils

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestNewLoggerMirrorsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.log")

	logger, err := newLogger(true, path)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger.Info("Classified finding")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Classified finding")
	assert.Contains(t, string(data), "timestamp")
}

func TestNewLoggerLevel(t *testing.T) {
	logger, err := newLogger(false, "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestSetLogger(t *testing.T) {
	l := zaptest.NewLogger(t)
	SetLogger(l)
	assert.Same(t, l, GetLogger())
	assert.Same(t, l, InitLogger(true, ""))
	assert.NotNil(t, Named("parser"))
}

func TestLoggerConcurrentAccess(t *testing.T) {
	loggers := []*zap.Logger{zaptest.NewLogger(t), zaptest.NewLogger(t)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			SetLogger(loggers[i%2])
		}(i)
		go func() {
			defer wg.Done()
			assert.NotNil(t, GetLogger())
			Named("runner").Debug("Concurrent access")
			CleanupLogger()
		}()
	}
	wg.Wait()

	assert.Contains(t, loggers, GetLogger())
}

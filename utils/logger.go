package utils

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  atomic.Pointer[zap.Logger]
	once sync.Once
)

// InitLogger builds the global logger on first use. Entries go to stderr so
// JSON results on stdout stay machine readable, and are mirrored to logFile
// when it is set.
func InitLogger(debug bool, logFile string) *zap.Logger {
	once.Do(func() {
		logger, err := newLogger(debug, logFile)
		if err != nil {
			panic(err)
		}
		log.Store(logger)
	})

	return log.Load()
}

func newLogger(debug bool, logFile string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if logFile != "" {
		config.OutputPaths = append(config.OutputPaths, logFile)
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, logFile)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = "stacktrace"

	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// GetLogger returns the global logger, a stderr-only info logger if
// InitLogger was never called
func GetLogger() *zap.Logger {
	if l := log.Load(); l != nil {
		return l
	}
	return InitLogger(false, "")
}

// SetLogger replaces the global logger
func SetLogger(l *zap.Logger) {
	once.Do(func() {})
	log.Store(l)
}

// Named returns a child of the global logger for a component
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if l := log.Load(); l != nil {
		_ = l.Sync()
	}
}

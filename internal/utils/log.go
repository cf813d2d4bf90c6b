// Package utils
package utils

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger  *zap.SugaredLogger
	once    sync.Once
	logFile string
)

// SetLogFile must be called before the first GetLogger call to take effect.
func SetLogFile(path string) {
	logFile = path
}

func GetLogger() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if logFile != "" {
			cfg.OutputPaths = []string{"stdout", logFile}
		}
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l.Named("trading-simulator").Sugar()
	})
	return logger
}

// SetLogger replaces the process logger. Intended for tests.
func SetLogger(l *zap.SugaredLogger) {
	once.Do(func() {})
	logger = l
}

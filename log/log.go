// Package log hands out named zap loggers that share one level and one sink.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	rootOnce sync.Once
	root     *zap.Logger
)

func base() *zap.Logger {
	rootOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.DisableStacktrace = true

		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		root = l
	})
	return root
}

// Logger returns a sugared logger tagged with name.
func Logger(name string) *zap.SugaredLogger {
	return base().Named(name).Sugar()
}

// SetLevel changes the level of every logger handed out by this package.
// Accepts zap level names: debug, info, warn, error.
func SetLevel(name string) error {
	return level.UnmarshalText([]byte(name))
}

// Sync flushes buffered log entries.
func Sync() error {
	return base().Sync()
}

// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the process-wide logger used before configuration is loaded. It is a
// no-op logger until InitLogger runs.
var L = zap.NewNop()

var initOnce sync.Once

// InitLogger replaces L with a production logger. Calls after the first are
// ignored; Configure swaps it once config is known.
func InitLogger() {
	initOnce.Do(func() {
		logger, err := New(false)
		if err != nil {
			return
		}
		L = logger
	})
}

// Configure rebuilds L for the requested mode and returns it.
func Configure(development bool) (*zap.Logger, error) {
	logger, err := New(development)
	if err != nil {
		return nil, err
	}
	L = logger
	return logger, nil
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

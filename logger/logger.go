// Package logger holds the process-wide zap logger.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// New builds a logger for the given environment. "development" or debug
// selects the console encoder at debug level; anything else the JSON
// production encoder at info level.
func New(env string, debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "development" || debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return cfg.Build()
}

// L returns the process-wide logger. It is a no-op logger until Set is called.
func L() *zap.Logger {
	return global.Load()
}

// Set replaces the process-wide logger. A nil logger resets it to a no-op.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

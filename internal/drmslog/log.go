// Package drmslog centralizes zap construction for the engine. Every
// component logs through a *zap.Logger obtained here rather than the
// global zap.L(), so the verbose config flag (spec.md §6) controls level
// without touching call sites.
package drmslog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	base    *zap.Logger
	verbose bool
)

func init() {
	base = zap.NewNop()
}

// Init installs the process-wide base logger. verbose raises the level
// to Debug (queries are logged per spec.md §6 `verbose`); otherwise the
// engine logs at Info and above.
func Init(verboseFlag bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = verboseFlag
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
		return
	}
	base = l
}

// L returns the current base logger, scoped under component.
func L(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(component)
}

// Verbose reports whether query logging is enabled.
func Verbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// Values groups a set of zap.Fields under a single "values" object field,
// used when logging a synthesized query alongside its bind parameters.
func Values(fields ...zap.Field) zap.Field {
	return zap.Object("values", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for _, f := range fields {
			f.AddTo(enc)
		}
		return nil
	}))
}

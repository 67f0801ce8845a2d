// Package logging centralizes logger construction and the verbosity level
// conventions used across spawngate. All components log through logr; the
// zap backend is only wired here and in the cmd entrypoint.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for logr.V(). Higher values are chattier.
const (
	// DEFAULT is for lifecycle events: startup, shutdown, config.
	DEFAULT = 1
	// VERBOSE is for per-cycle events that are useful when tuning.
	VERBOSE = 2
	// DEBUG is for per-request decisions (admission, reservation).
	DEBUG = 3
	// TRACE is for high-frequency internals. Expensive; off in production.
	TRACE = 4
)

// NewLogger creates a production zap-backed logr.Logger at the given
// verbosity. Levels above the configured verbosity are discarded by the
// backend rather than by callers.
func NewLogger(verbosity int) logr.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity)) //nolint:gosec // small bounded value
	zl, err := cfg.Build()
	if err != nil {
		// Construction only fails on invalid config, which is static here.
		panic(err)
	}
	return zapr.NewLogger(zl)
}

// NewTestLogger creates a dev-mode logger for tests.
func NewTestLogger() logr.Logger {
	zl, err := zap.NewDevelopment(zap.AddCaller())
	if err != nil {
		panic(err)
	}
	return zapr.NewLogger(zl)
}

// Package logging builds the zap loggers used by the collection tooling.
// The catalog, lint, and loader code all log through named subsystem
// loggers so a single collection pass can be filtered per concern.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Subsystem names used across the module. Keeping them here means log
// output stays greppable even as packages move around.
const (
	SubsystemCatalog  = "catalog"
	SubsystemLint     = "lint"
	SubsystemManifest = "manifest"
	SubsystemSkill    = "skill"
)

// New returns a development-style console logger at the given level
// ("debug", "info", "warn", "error"). An empty level means "info".
func New(level string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything. Library entry points use
// it as the default so callers opt in to output rather than out of it.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Named returns a subsystem child of base, tolerating a nil base.
func Named(base *zap.Logger, subsystem string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(subsystem)
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

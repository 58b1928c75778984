// Package structuredlog builds the zap loggers a service actually ships
// with: JSON output for machines in production, console output for
// humans in development, and named subsystem children so one process's
// stream can be filtered per concern.
//
// The part teams get wrong is secrets. Once a token lands in a log line
// it is in every aggregator, backup, and support bundle downstream, so
// redaction has to happen at the call site, not in a pipeline someone
// hopes is configured. Secret produces a field that carries a short
// SHA-256 fingerprint instead of the value: two log lines holding the
// same credential correlate, but neither reveals it.
//
// Sampling is deliberately off in both profiles. It drops exactly the
// repeated error lines an incident responder greps for.
//
// Skill metadata:
//
//	name: structured-logging
//	category: observability
//	tags: zap, logging, json, redaction, subsystems
//	level: intermediate
package structuredlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the output profile.
type Config struct {
	// Level is the minimum level emitted: debug, info, warn or error.
	Level string
	// Format is "json" for production or "console" for development.
	Format string
}

// DefaultConfig is the production profile.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// New builds a logger for the given profile.
func New(cfg Config) (*zap.Logger, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	switch cfg.Format {
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.Sampling = nil
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("structuredlog: unknown format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("structuredlog: build: %w", err)
	}
	return logger, nil
}

// Named returns a subsystem child of base, tolerating a nil base so
// library code can log unconditionally.
func Named(base *zap.Logger, subsystem string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(subsystem)
}

// Secret returns a field whose value is an opaque fingerprint of value.
// The fingerprint is stable, so occurrences of one credential can be
// correlated across lines and services without ever logging it.
func Secret(key, value string) zap.Field {
	if value == "" {
		return zap.String(key, "")
	}
	sum := sha256.Sum256([]byte(value))
	return zap.String(key, "sha256:"+hex.EncodeToString(sum[:4]))
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
		return zapcore.InfoLevel, fmt.Errorf("structuredlog: unknown level %q", level)
	}
}

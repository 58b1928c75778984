package structuredlog

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_LevelGating(t *testing.T) {
	logger, err := New(Config{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Sync()

	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info enabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn disabled at warn level")
	}
}

func TestNew_Defaults(t *testing.T) {
	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("New with zero config: %v", err)
	}
	defer logger.Sync()

	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug enabled by default, want info floor")
	}
}

func TestNew_Rejects(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("New accepted unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("New accepted unknown format")
	}
}

func TestNamed_NilBase(t *testing.T) {
	logger := Named(nil, "catalog")
	if logger == nil {
		t.Fatal("Named(nil, ...) returned nil")
	}
	logger.Info("must not panic")
}

func TestSecret_Fingerprints(t *testing.T) {
	const token = "hunter2"
	sum := sha256.Sum256([]byte(token))
	want := "sha256:" + hex.EncodeToString(sum[:4])

	field := Secret("api_key", token)
	if field.String != want {
		t.Fatalf("Secret value = %q, want %q", field.String, want)
	}
	if strings.Contains(field.String, token) {
		t.Fatal("fingerprint contains the raw secret")
	}
	if other := Secret("api_key", "hunter3"); other.String == field.String {
		t.Fatal("distinct secrets produced the same fingerprint")
	}
	if empty := Secret("api_key", ""); empty.String != "" {
		t.Fatalf("empty secret fingerprinted as %q, want empty", empty.String)
	}
}

func TestSubsystemLines(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := Named(zap.New(core), "catalog")

	logger.Info("index rebuilt", Secret("token", "hunter2"), zap.Int("skills", 32))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("observed %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.LoggerName != "catalog" {
		t.Errorf("LoggerName = %q, want %q", entry.LoggerName, "catalog")
	}
	fields := entry.ContextMap()
	token, ok := fields["token"].(string)
	if !ok || !strings.HasPrefix(token, "sha256:") {
		t.Errorf("token field = %v, want sha256 fingerprint", fields["token"])
	}
	if strings.Contains(token, "hunter2") {
		t.Error("raw secret leaked into the log entry")
	}
}

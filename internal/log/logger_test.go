package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/felixgeelhaar/taskgraph/internal/errors"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:       level,
		Format:      FormatJSON,
		Output:      &buf,
		ServiceName: "taskgraph",
	})
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestNewJSON(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	logger.Info("graph submitted", "graph_id", "g-1")

	entry := decodeLine(t, buf)
	if entry["msg"] != "graph submitted" {
		t.Errorf("expected msg 'graph submitted', got %v", entry["msg"])
	}
	if entry["graph_id"] != "g-1" {
		t.Errorf("expected graph_id g-1, got %v", entry["graph_id"])
	}
	if entry["service"] != "taskgraph" {
		t.Errorf("expected service attribute, got %v", entry["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below WARN, got %q", buf.String())
	}

	logger.Warn("warn")
	if !strings.Contains(buf.String(), "warn") {
		t.Errorf("expected warn line, got %q", buf.String())
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})
	logger.Info("hello", "node_id", "build")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "node_id=build") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestWithErrorCoded(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)

	err := errors.NewToolNotFoundError("compile")
	logger.WithError(err).Error("dispatch failed")

	entry := decodeLine(t, buf)
	if entry["error_code"] != string(errors.ErrCodeToolNotFound) {
		t.Errorf("expected error_code %s, got %v", errors.ErrCodeToolNotFound, entry["error_code"])
	}
	if _, ok := entry["suggestions"]; !ok {
		t.Error("expected suggestions attribute")
	}
}

func TestWithErrorWrappedCoded(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)

	err := fmt.Errorf("submit: %w", errors.NewGraphNotFoundError("g-9"))
	logger.WithError(err).Error("lookup failed")

	entry := decodeLine(t, buf)
	if entry["error_code"] != string(errors.ErrCodeGraphNotFound) {
		t.Errorf("expected wrapped code to be found, got %v", entry["error_code"])
	}
}

func TestWithErrorPlain(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	logger.WithError(fmt.Errorf("boom")).Error("failed")

	entry := decodeLine(t, buf)
	if entry["error"] != "boom" {
		t.Errorf("expected error boom, got %v", entry["error"])
	}
	if _, ok := entry["error_code"]; ok {
		t.Error("plain errors must not carry error_code")
	}
}

func TestWithErrorNil(t *testing.T) {
	logger, _ := newBufferLogger(LevelInfo)
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogError(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	logger.LogError(context.Background(), "persist failed", errors.Wrap(errors.ErrCodeStoreWrite, "write record", fmt.Errorf("disk full")))

	entry := decodeLine(t, buf)
	if entry["msg"] != "persist failed" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["cause"] != "disk full" {
		t.Errorf("expected cause 'disk full', got %v", entry["cause"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("debug", "json")
	if cfg.Level != LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected json format, got %v", cfg.Format)
	}

	cfg = ParseConfig("", "")
	if cfg.Level != LevelInfo || cfg.Format != FormatText {
		t.Errorf("empty settings should keep defaults, got %v/%v", cfg.Level, cfg.Format)
	}
}

func TestContextCarriage(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	ctx := IntoContext(context.Background(), logger.With("graph_id", "g-2"))

	FromContext(ctx).Info("from context")

	entry := decodeLine(t, buf)
	if entry["graph_id"] != "g-2" {
		t.Errorf("expected graph_id from context logger, got %v", entry["graph_id"])
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	custom, _ := newBufferLogger(LevelInfo)
	SetDefaultLogger(custom)
	defer SetDefaultLogger(nil)

	if got := FromContext(context.Background()); got != custom {
		t.Error("expected default logger when context carries none")
	}
}

package debug

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestWithDebug(t *testing.T) {
	if !IsEnabled(WithDebug(context.Background(), true)) {
		t.Error("IsEnabled should return true when debug is enabled")
	}
	if IsEnabled(WithDebug(context.Background(), false)) {
		t.Error("IsEnabled should return false when debug is disabled")
	}
	if IsEnabled(context.Background()) {
		t.Error("IsEnabled should return false by default")
	}
}

func TestSetupLogger_Levels(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	SetupLogger(true)
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("SetupLogger(true) should enable debug level logging")
	}
	SetupLogger(false)
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("SetupLogger(false) should suppress info logging")
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("SetupLogger(false) should keep warn logging")
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	t.Setenv("CONVO_LOG_FORMAT", "json")
	var buf bytes.Buffer
	NewLogger(&buf, false).Warn("feed disconnected", "attempt", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "feed disconnected" || rec["attempt"] != float64(2) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	t.Setenv("CONVO_LOG_FORMAT", "")
	var buf bytes.Buffer
	NewLogger(&buf, true).Debug("admitted", "message", "m1")
	if !strings.Contains(buf.String(), "message=m1") {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}

func TestComponent(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	Component("ingest").Info("hydrated")
	if !strings.Contains(buf.String(), "component=ingest") {
		t.Errorf("missing component attr: %q", buf.String())
	}
}

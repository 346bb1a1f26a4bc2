package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" DEBUG ": slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentApp, Output: &buf})

	logger.WithComponent(ComponentWorker).Info("hello", FieldCardID, 7)

	out := buf.String()
	if !strings.Contains(out, "component=worker") || !strings.Contains(out, "card_id=7") {
		t.Errorf("output = %q", out)
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Errorf("fallback component = %q", got.Component())
	}

	logger := New(Config{Component: ComponentHTTP})
	ctx := NewContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext did not return the stored logger")
	}
}

func TestStructuredLogger_LogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "level=INFO"},
		{404, "level=WARN"},
		{500, "level=ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		sl := NewStructuredLogger(New(Config{Output: &buf}))
		req := httptestRequest()
		sl.LogHTTPEnd(context.Background(), req, "req_1", tt.status, 3, "10.0.0.1")
		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("status %d logged %q, want %s", tt.status, buf.String(), tt.level)
		}
	}
}

func TestStructuredLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Output: &buf}))
	avail := int64(1500)

	sl.LogError(context.Background(), "export failed", errors.New("quota"), OpExport,
		NewFields().WithCard(3, &avail).WithCompetency("2025-06"))

	out := buf.String()
	for _, want := range []string{"error=quota", "operation=export", "card_id=3", "available_cents=1500", "competency=2025-06"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

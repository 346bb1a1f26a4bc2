package cli

import (
	"context"
	"log/slog"
	"testing"
)

func TestSetupLogger_SetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupLogger("debug", "app")
	if logger.Component() != "app" {
		t.Errorf("component = %q", logger.Component())
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default logger should be at debug level")
	}
}

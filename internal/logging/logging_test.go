package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/kioskctl/printwatch/internal/config"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := New(config.LoggingConfig{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("%s: debug level not enabled", format)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud", Format: "json"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		enabled       zapcore.Level
		disabled      zapcore.Level
	}{
		{"info", "console", zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", "", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn", "json", zapcore.WarnLevel, zapcore.InfoLevel},
		{" error ", "JSON", zapcore.ErrorLevel, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		log, err := New(tt.level, tt.format)
		if err != nil {
			t.Fatalf("level %q format %q: %v", tt.level, tt.format, err)
		}
		if !log.Core().Enabled(tt.enabled) {
			t.Errorf("level %q: expected %v enabled", tt.level, tt.enabled)
		}
		if log.Core().Enabled(tt.disabled) {
			t.Errorf("level %q: expected %v disabled", tt.level, tt.disabled)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "console"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

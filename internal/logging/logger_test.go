package logging

import "testing"

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"", "json", "console"} {
		logger, err := NewLogger("debug", format)
		if err != nil {
			t.Fatalf("unexpected error for format %q: %v", format, err)
		}
		if !logger.Core().Enabled(-1) {
			t.Fatalf("expected debug level to be enabled for format %q", format)
		}
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger("verbose", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(-1) || !logger.Core().Enabled(0) {
		t.Fatalf("expected info level")
	}
}

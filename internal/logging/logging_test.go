package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{" INFO ", slog.LevelInfo},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level name")
	}
}

func TestCLIHandlerRendersTraceLabel(t *testing.T) {
	var buf strings.Builder
	logger := NewCLI(&buf, LevelTrace)

	Trace(logger, "console output", "raw", "FreeBSD/amd64")

	line := buf.String()
	if !strings.HasPrefix(line, "TRACE ") {
		t.Errorf("expected TRACE prefix, got %q", line)
	}
	if !strings.Contains(line, `raw="FreeBSD/amd64"`) {
		t.Errorf("expected quoted attr in %q", line)
	}
}

func TestCLIHandlerRespectsLevel(t *testing.T) {
	var buf strings.Builder
	logger := NewCLI(&buf, slog.LevelInfo)

	Trace(logger, "should be suppressed")
	logger.Debug("also suppressed")
	logger.Info("visible")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("suppressed records leaked: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("info record missing: %q", out)
	}
}

func TestCLIHandlerGroupsAndAttrs(t *testing.T) {
	var buf strings.Builder
	logger := NewCLI(&buf, slog.LevelInfo).With("component", "boot")

	logger.Info("state transition", slog.Group("session", "spins", 3))

	line := buf.String()
	if !strings.Contains(line, `component="boot"`) {
		t.Errorf("missing component attr: %q", line)
	}
	if !strings.Contains(line, "session.spins=3") {
		t.Errorf("missing grouped attr: %q", line)
	}
}

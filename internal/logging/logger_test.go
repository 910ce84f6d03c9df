package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", "info")
	logger.Info("banner_detected", "passed", true)

	out := buf.String()
	if !strings.Contains(out, `"msg":"banner_detected"`) {
		t.Errorf("expected JSON message, got: %s", out)
	}
	if !strings.Contains(out, `"passed":true`) {
		t.Errorf("expected attribute, got: %s", out)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "text", "warn")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("warn-level logger emitted info: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestConsole_EchoAndTail(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, 3)
	for _, l := range []string{"a", "b", "c", "d"} {
		c.Line(l)
	}

	if buf.String() != "a\nb\nc\nd\n" {
		t.Errorf("echo = %q", buf.String())
	}
	tail := c.Tail()
	if strings.Join(tail, ",") != "b,c,d" {
		t.Errorf("Tail() = %q, want [b c d]", tail)
	}
}

func TestConsole_PartialTailAndReset(t *testing.T) {
	c := NewConsole(nil, 5)
	c.Line("x")
	c.Line("y")
	if got := c.Tail(); strings.Join(got, ",") != "x,y" {
		t.Errorf("Tail() = %q, want [x y]", got)
	}
	c.Printf("Saving image to %s", "out.bin")
	if got := c.Tail(); len(got) != 2 {
		t.Errorf("Printf should not be recorded, Tail() = %q", got)
	}

	c.Reset()
	if got := c.Tail(); len(got) != 0 {
		t.Errorf("Tail() after Reset = %q", got)
	}
}

package logger

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	defer SetLevel("info")

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 2") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestLogLLMPayloadTruncates(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	defer SetLevel("info")

	LogLLMPayload("ollama", "skip")
	if buf.Len() != 0 {
		t.Fatalf("payload should not be logged at info level")
	}
	SetLevel("debug")
	LogLLMPayload("ollama", strings.Repeat("x", llmPayloadMax+50))
	if !strings.Contains(buf.String(), "...") {
		t.Errorf("expected truncated payload, got %d bytes", buf.Len())
	}
}

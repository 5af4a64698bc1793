package xlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestDiscardDropsEverything(t *testing.T) {
	// Mostly a compile-time/contract check: Discard must not panic and
	// must implement Logger.
	var l Logger = Discard
	l.Debug("x")
	l.Info("y", "k", "v")
}

func TestWriterFormatsLevelMessageAndPairs(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, InfoLevel)
	l.Debug("dropped because below min level")
	l.Info("resize started", "from", 16, "to", 32)

	out := buf.String()
	if strings.Contains(out, "dropped because below min level") {
		t.Fatalf("expected Debug to be filtered by InfoLevel minimum, got: %q", out)
	}
	if !strings.Contains(out, "INFO resize started") {
		t.Fatalf("missing level+message prefix, got: %q", out)
	}
	if !strings.Contains(out, "from=16") || !strings.Contains(out, "to=32") {
		t.Fatalf("missing key-value pairs, got: %q", out)
	}
}

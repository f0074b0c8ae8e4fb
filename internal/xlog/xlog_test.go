package xlog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestPrintfWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Printf("pressure at %d%%", 42)

	out := buf.String()
	if !strings.Contains(out, "sbh: ") {
		t.Errorf("output missing prefix: %q", out)
	}
	if !strings.Contains(out, "pressure at 42%") {
		t.Errorf("output missing formatted message: %q", out)
	}
}

func TestPrintlnWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Println("daemon stopped")

	if !strings.Contains(buf.String(), "daemon stopped") {
		t.Errorf("output missing message: %q", buf.String())
	}
}

package shared

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLogger(t *testing.T) {
	t.Run("writes structured fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WithLogger(NewLogger(&buf), "component", "coordinator")
		logger.Info("poll", "state", "polling")

		out := buf.String()
		if !strings.Contains(out, "component=coordinator") {
			t.Errorf("expected component field in %q", out)
		}
		if !strings.Contains(out, "state=polling") {
			t.Errorf("expected state field in %q", out)
		}
	})

	t.Run("nil logger is replaced", func(t *testing.T) {
		logger := WithLogger(nil, "k", "v")
		if logger == nil {
			t.Fatal("expected non-nil logger")
		}
		logger.Info("dropped")
	})
}

func TestParseLogLevel(t *testing.T) {
	tc := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"WARN", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"verbose", log.InfoLevel},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}
	b, _ := GenerateState()

	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("expected distinct states")
	}
}

func TestBrowserCommand(t *testing.T) {
	for _, goos := range []string{"darwin", "linux", "windows"} {
		cmd, err := browserCommand(goos, "https://example.com")
		if err != nil {
			t.Errorf("%s: unexpected error %v", goos, err)
			continue
		}
		if cmd.Args[len(cmd.Args)-1] != "https://example.com" {
			t.Errorf("%s: url should be last argument, got %v", goos, cmd.Args)
		}
	}

	if _, err := browserCommand("plan9", "https://example.com"); err == nil {
		t.Error("expected error for unsupported platform")
	}
}

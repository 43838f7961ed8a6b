package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug text", "debug", "text"},
		{"info json", "info", "json"},
		{"warn text", "warn", "text"},
		{"error json", "error", "json"},
		{"unknown level defaults to info", "bogus", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.level, tt.format)
			if l == nil {
				t.Fatal("New() returned nil")
			}
			if l.Logger == nil {
				t.Fatal("New() returned logger with nil slog.Logger")
			}
		})
	}
}

func TestLogger_WithModel(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	ml := l.WithModel("minilm-l6")
	ml.Info("encoding")

	out := buf.String()
	if !strings.Contains(out, "model=minilm-l6") {
		t.Errorf("expected model attribute in output, got %q", out)
	}
}

func TestLogger_WithPhase(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	pl := l.WithPhase("corpus")
	pl.Info("batch done")

	out := buf.String()
	if !strings.Contains(out, "phase=corpus") {
		t.Errorf("expected phase attribute in output, got %q", out)
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	el := l.WithError(errors.New("backend unreachable"))
	el.Error("embed failed")

	out := buf.String()
	if !strings.Contains(out, "backend unreachable") {
		t.Errorf("expected error message in output, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	l := Default()
	if l == nil {
		t.Fatal("Default() returned nil")
	}
}

func TestLogger_OutputFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	l.Info("run started", "models", 3)

	out := buf.String()
	if !strings.Contains(out, `"msg":"run started"`) {
		t.Errorf("expected JSON msg field, got %q", out)
	}
	if !strings.Contains(out, `"models":3`) {
		t.Errorf("expected JSON models attribute, got %q", out)
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{" warning ", slog.LevelWarn, false},
		{"err", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("json by default", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New("info", "", &buf)
		if err != nil {
			t.Fatal(err)
		}
		logger.Info("hello", "endpt", "a1")

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("expected json line, got %q", buf.String())
		}
		if rec["endpt"] != "a1" {
			t.Errorf("expected endpt attribute, got %v", rec)
		}
	})

	t.Run("text format honours level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New("warn", "text", &buf)
		if err != nil {
			t.Fatal(err)
		}
		logger.Info("dropped")
		logger.Warn("kept")
		if strings.Contains(buf.String(), "dropped") {
			t.Error("info record should be filtered")
		}
		if !strings.Contains(buf.String(), "kept") {
			t.Error("warn record missing")
		}
	})

	t.Run("rejects bad level", func(t *testing.T) {
		if _, err := New("nope", "json", nil); err == nil {
			t.Error("expected error")
		}
	})
}

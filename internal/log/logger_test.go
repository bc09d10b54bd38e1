package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func resetGlobal() {
	logger = nil
	once = *new(sync.Once)
}

func TestSetup(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	Setup("DEBUG")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected DEBUG to be enabled")
	}
}

func TestGetConcurrentWithConfigure(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	var wg sync.WaitGroup
	loggers := make([]*slog.Logger, 8)
	for i := range loggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				Configure(Options{Level: "WARN"})
			}
			loggers[i] = Get()
		}()
	}
	wg.Wait()

	for i, l := range loggers {
		if l == nil {
			t.Fatalf("Get() returned nil in goroutine %d", i)
		}
		if l != loggers[0] {
			t.Fatalf("goroutine %d saw a different logger", i)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newHandler(&buf, Options{Format: "text"}))
	l.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestConfigureWritesFile(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	path := filepath.Join(t.TempDir(), "framewire.log")
	Configure(Options{Level: "INFO", File: path})
	Info("to file", "n", 1)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestContextHelpers(t *testing.T) {
	t.Cleanup(resetGlobal)

	tests := []struct {
		name string
		make func() *slog.Logger
		key  string
		want string
	}{
		{"component", func() *slog.Logger { return WithComponent("test-comp") }, "component", "test-comp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger = slog.New(slog.NewJSONHandler(&buf, nil))

			tt.make().Info("hello")

			var out map[string]any
			if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
				t.Fatalf("Failed to decode JSON: %v", err)
			}
			if out[tt.key] != tt.want {
				t.Errorf("Expected %s %q, got %v", tt.key, tt.want, out[tt.key])
			}
			if out["msg"] != "hello" {
				t.Errorf("Expected msg 'hello', got %v", out["msg"])
			}
		})
	}
}

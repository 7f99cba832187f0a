package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "development config",
			config: Config{Level: "debug", Development: true, Encoding: "console"},
		},
		{
			name:   "production config",
			config: Config{Level: "info", Encoding: "json"},
		},
		{
			name:   "invalid level falls back to info",
			config: Config{Level: "invalid", Encoding: "json"},
		},
		{
			name:   "empty encoding uses default",
			config: Config{Level: "warn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			_ = logger.Sync()
		})
	}
}

func TestNew_InvalidLevelIsInfo(t *testing.T) {
	logger, err := New(Config{Level: "loud"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug enabled for invalid level")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info disabled for invalid level")
	}
}

func TestNew_OutputPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordr.log")

	logger, err := New(Config{Level: "info", Encoding: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("render queued", RenderID(42))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"render_id":42`) {
		t.Errorf("log file = %s, want render_id field", data)
	}
}

func TestDefault(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		env      string
	}{
		{"development mode", "debug", "development"},
		{"production mode", "info", "production"},
		{"empty env vars", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ORDR_LOG_LEVEL", tt.logLevel)
			t.Setenv("ORDR_ENV", tt.env)

			logger := Default()
			if logger == nil {
				t.Fatal("Default() returned nil")
			}
			_ = logger.Sync()
		})
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("OrNop() replaced a non-nil logger")
	}
}

func TestFieldHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	logger.Debug("request",
		Method("GET"),
		Path("/ordr/skins"),
		Status(200),
		RequestID("abc"),
		Channel("render_fail_json"),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	want := map[string]any{
		"method":     "GET",
		"path":       "/ordr/skins",
		"status":     int64(200),
		"request_id": "abc",
		"channel":    "render_fail_json",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %v, want %v", k, fields[k], v)
		}
	}
}

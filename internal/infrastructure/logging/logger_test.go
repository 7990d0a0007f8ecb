package logging

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewLoggerSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	zap := NewLogger(&LoggerConfig{FilePath: dir, Encoding: "json", Level: "error", Logger: "zap"})
	if _, ok := zap.(*zapLogger); !ok {
		t.Fatalf("NewLogger(zap) returned %T", zap)
	}

	zero := NewLogger(&LoggerConfig{FilePath: dir, Encoding: "json", Level: "error", Logger: "zerolog"})
	if _, ok := zero.(*zeroLogger); !ok {
		t.Fatalf("NewLogger(zerolog) returned %T", zero)
	}

	// Both must accept nil extras.
	zap.Info(General, Startup, "hello", nil)
	zero.Info(General, Startup, "hello", nil)
}

func TestNewLoggerPanicsOnUnknownBackend(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown logger")
		}
	}()
	NewLogger(&LoggerConfig{Logger: "logrus"})
}

func TestLogParamsToZapParamsFlattensPairs(t *testing.T) {
	params := logParamsToZapParams(map[ExtraKey]any{RoomID: "r1"})
	if len(params) != 2 {
		t.Fatalf("len(params) = %d, want 2", len(params))
	}
	if params[0] != "RoomId" || params[1] != "r1" {
		t.Errorf("params = %v", params)
	}
}

func TestWithCategoryDoesNotRequireMap(t *testing.T) {
	extra := withCategory(Presence, Connect, nil)
	if extra["Category"] != Presence || extra["SubCategory"] != Connect {
		t.Errorf("extra = %v", extra)
	}
}

func TestLogFileName(t *testing.T) {
	day := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	got := logFileName(&LoggerConfig{FilePath: "logs"}, day)
	if want := filepath.Join("logs", "parley-2026-03-09.log"); got != want {
		t.Errorf("logFileName = %q, want %q", got, want)
	}
}

func TestNewLoggerIgnoresBackendCase(t *testing.T) {
	l := NewLogger(&LoggerConfig{Level: "error", Logger: " Zerolog "})
	if _, ok := l.(*zeroLogger); !ok {
		t.Fatalf("NewLogger(Zerolog) returned %T", l)
	}
}

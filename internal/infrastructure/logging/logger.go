// Package logging is the structured logger shared by every parley
// component. Entries carry a Category (the subsystem: presence, queue,
// store, ...), a SubCategory (the operation) and typed extra keys such as
// RoomID or Identity, so a room's history can be followed across the
// router, the processor and the websocket hub.
package logging

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hilthontt/parley/internal/infrastructure/env"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Init()

	Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Debugf(template string, args ...any)

	Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Infof(template string, args ...any)

	Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Warnf(template string, args ...any)

	Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Errorf(template string, args ...any)

	Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Fatalf(template string, args ...any)
}

const (
	BackendZap     = "zap"
	BackendZerolog = "zerolog"
)

// LoggerConfig is the `logger` section of the parley config. FilePath is a
// directory; when set, entries are also written to a rotated
// parley-<date>.log file inside it.
type LoggerConfig struct {
	FilePath string `koanf:"file_path"`
	Encoding string `koanf:"encoding"`
	Level    string `koanf:"level"`
	Logger   string `koanf:"logger"`
}

func NewDefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		FilePath: env.GetString("LOGGER_FILE_PATH", "./logs/"),
		Encoding: env.GetString("LOGGER_ENCODING", "json"),
		Level:    env.GetString("LOGGER_LEVEL", "debug"),
		Logger:   env.GetString("LOGGER_LOGGER", BackendZap),
	}
}

// NewLogger builds and initialises the backend named by cfg.Logger. An
// unknown backend is a startup misconfiguration and panics.
func NewLogger(cfg *LoggerConfig) Logger {
	switch strings.ToLower(strings.TrimSpace(cfg.Logger)) {
	case BackendZap:
		return newZapLogger(cfg)
	case BackendZerolog:
		return newZeroLogger(cfg)
	}

	panic(fmt.Sprintf("logger %q not supported: supported loggers: [%s, %s]", cfg.Logger, BackendZap, BackendZerolog))
}

func logFileName(cfg *LoggerConfig, now time.Time) string {
	return filepath.Join(cfg.FilePath, fmt.Sprintf("parley-%s.log", now.Format("2006-01-02")))
}

func rotatingFile(cfg *LoggerConfig, now time.Time) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFileName(cfg, now),
		MaxSize:    10,
		MaxAge:     20,
		MaxBackups: 5,
		LocalTime:  true,
		Compress:   true,
	}
}

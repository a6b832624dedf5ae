// Package logging builds the process logger: JSON or text slog output to
// stderr, optionally mirrored to a size-rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the logging setup. It is the "logging" section of the
// configuration file.
type Config struct {
	Level          string `json:"level" yaml:"level"`
	Format         string `json:"format" yaml:"format"`
	FilePath       string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	FileMaxSizeMB  int    `json:"file_max_size_mb,omitempty" yaml:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `json:"file_max_files,omitempty" yaml:"file_max_files,omitempty"`
	FileMaxAgeDays int    `json:"file_max_age_days,omitempty" yaml:"file_max_age_days,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         "text",
		FileMaxSizeMB:  100,
		FileMaxFiles:   3,
		FileMaxAgeDays: 30,
	}
}

// Logger owns the handler's level and the log file, if any.
type Logger struct {
	*slog.Logger

	level  *slog.LevelVar
	closer io.Closer
}

// New builds a logger writing to w (stderr when nil) and, when
// cfg.FilePath is set, to a rotated file as well.
func New(cfg Config, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}

	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(ParseLevel(cfg.Level))

	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.FileMaxSizeMB, 100),
			MaxBackups: orDefault(cfg.FileMaxFiles, 3),
			MaxAge:     orDefault(cfg.FileMaxAgeDays, 30),
		}
		w = io.MultiWriter(w, lj)
		l.closer = lj
	}

	opts := &slog.HandlerOptions{Level: l.level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l.Logger = slog.New(h)
	return l
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// Level returns the current level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close releases the log file.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseLevel converts a level name to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

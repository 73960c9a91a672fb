package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters (lumberjack semantics).
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // rotated files to keep
	DefaultMaxAgeDays = 7  // days
)

// Config describes the application log destination. When neither File nor
// Dir is set, records go to stderr with colored levels; otherwise they are
// written as JSON to a size-rotated file.
type Config struct {
	Dir        string // base directory; file becomes Dir/s1control.log
	File       string // explicit path overrides Dir
	Level      string // debug | info | warn | error (default info)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds the application logger.
func New(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}

	file := c.File
	if file == "" && c.Dir != "" {
		file = filepath.Join(c.Dir, "s1control.log")
	}
	if file == "" {
		return slog.New(NewColorTextHandler(os.Stderr, opts))
	}
	w := &lj.Logger{
		Filename:   file,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

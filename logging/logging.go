package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"watchsync/config"
)

// Options controls how the root logger is built.
type Options struct {
	Log     config.LogConfig
	Debug   bool
	Console io.Writer
	Buffers *Buffers
}

// New builds the root logger: console output, an optional rotating file and the
// in-memory category buffers. Components derive children with Component.
func New(opts Options) (zerolog.Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}}

	if opts.Log.File != "" {
		logDir := filepath.Dir(opts.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return zerolog.Nop(), fmt.Errorf("create log directory %s: %w", logDir, err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.Log.File,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.Compress,
		})
	}

	if opts.Buffers != nil {
		writers = append(writers, opts.Buffers)
	}

	level := ParseLevel(opts.Log.Level)
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, nil
}

// ParseLevel maps a config level onto zerolog, defaulting to info.
func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with a component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}

// Bind returns a child logger carrying the given fields. The parent is unchanged.
func Bind(parent zerolog.Logger, fields map[string]any) zerolog.Logger {
	return parent.With().Fields(fields).Logger()
}

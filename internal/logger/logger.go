// Package logger builds the process logger from configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caffeineduck/runlink/internal/config"
)

// New returns a logger writing to the configured output, and a close
// function for any file it opened.
func New(cfg config.LogConfig) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	closer := func() error { return nil }
	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out = os.Stdout
	case "", "stderr":
		out = os.Stderr
	case "file":
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file %q: %w", cfg.File, err)
		}
		out, closer = f, f.Close
	default:
		return zerolog.Nop(), nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	return build(out, cfg.Format, level), closer, nil
}

// Init builds the logger with New and installs it as the zerolog global.
func Init(cfg config.LogConfig) (zerolog.Logger, func() error, error) {
	l, closer, err := New(cfg)
	if err != nil {
		return l, nil, err
	}
	log.Logger = l
	return l, closer, nil
}

func build(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	if strings.ToLower(format) == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

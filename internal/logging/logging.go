// Package logging configures the process-wide zerolog logger from
// config.LoggingConfig and hands out component-scoped child loggers,
// set up once at startup and threaded down by field rather than by
// package-level globals per subsystem.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/cis-project/cis-core/internal/config"
)

// Init parses cfg.Level, opens cfg.File (if set) alongside stderr, and
// returns the root logger every component derives its own child from via
// With().
func Init(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Logger{}, err
		}
		out = zerolog.MultiLevelWriter(os.Stderr, f)
	}

	return zerolog.New(out).With().Timestamp().Logger(), nil
}

// Component returns a child logger tagged with the owning package name,
// the convention every wired-in component in internal/node follows.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

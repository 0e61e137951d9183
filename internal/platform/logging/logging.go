// Package logging builds the process logger from MONTYHALL_LOG_* settings.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/secretdoor/montyhall/internal/platform/config"
)

// Config selects the level and output format of the process logger.
type Config struct {
	Level  string `env:"MONTYHALL_LOG_LEVEL" envDefault:"info"`
	Format string `env:"MONTYHALL_LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads logging settings from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// New returns a logger writing to out, tagged with the service name.
func New(out io.Writer, service string, cfg Config) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger(), nil
}

// Printf adapts a logger to the printf-style hooks used by dial helpers.
func Printf(logger zerolog.Logger) func(string, ...any) {
	return func(format string, args ...any) {
		logger.Debug().Msgf(format, args...)
	}
}

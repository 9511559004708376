package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bcnelson/traefik-route-manager/internal/config"
)

var fileWriter *lumberjack.Logger

// Setup initializes the global logger from the configuration.
func Setup(cfg *config.Config) error {
	return setup(&cfg.Logging, os.Stderr)
}

func setup(cfg *config.LoggingConfig, stderr io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = stderr
	if cfg.Format != "json" {
		console = zerolog.ConsoleWriter{Out: stderr}
	}

	out := console
	if cfg.File != "" {
		// Create log directory with secure permissions (0700 - owner only)
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		Close()
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		// The file always gets JSON so it stays machine readable.
		out = zerolog.MultiLevelWriter(console, fileWriter)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	if err != nil {
		log.Warn().Str("invalid_level", cfg.Level).Msg("Invalid log level, using info")
	}
	log.Debug().
		Str("level", level.String()).
		Str("format", cfg.Format).
		Str("file", cfg.File).
		Msg("Logging initialized")

	return nil
}

// Close closes the log file, if one is open.
func Close() {
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
}

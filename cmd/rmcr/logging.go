package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ramboxcrty/GameRMCR/internal/config"
)

// setupLogger installs the default structured logger. Output always goes to
// stdout and, when a log file is configured and can be opened, to that file
// too. The returned function closes the file.
func setupLogger(cfg *config.LoggingConfig) (*slog.Logger, func()) {
	var logFile *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			logFile = f
		}
	}

	var out io.Writer = os.Stdout
	if logFile != nil {
		out = io.MultiWriter(os.Stdout, logFile)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	logger := slog.New(handler).With("app", "rmcr")
	slog.SetDefault(logger)

	if cfg.File != "" {
		if logFile != nil {
			logger.Info("Persistent logging enabled", "file", cfg.File)
		} else {
			logger.Error("Persistent logging disabled: failed to open log file", "file", cfg.File)
		}
	}

	return logger, func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

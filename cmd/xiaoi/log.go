package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"xiaoi/config"
)

// setupLogger builds the process logger. Logs go to stderr, and also to
// logFile when one is given; toStderr=false keeps stderr quiet for the
// MCP stdio transport.
func setupLogger(cfg config.LogConfig, verbose bool, logFile string, toStderr bool) (*slog.Logger, func() error, error) {
	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}

	var writers []io.Writer
	if toStderr {
		writers = append(writers, os.Stderr)
	}
	closer := func() error { return nil }
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f.Close
	}

	var w io.Writer = io.Discard
	if len(writers) > 0 {
		w = io.MultiWriter(writers...)
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			Level:           log.Level(level),
			Prefix:          "xiaoi",
		})
	}

	return slog.New(handler), closer, nil
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

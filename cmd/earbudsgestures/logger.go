package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Diagnostics go to stderr through slog. Stdout belongs to the operator
// console: the device list, the prompt, the authorization URL and the
// per-gesture confirmations.

var logLevelNames = map[string]slog.Level{
	"error":   slog.LevelError,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
}

// parseLogLevel maps a logging.level value to a slog level.
func parseLogLevel(name string) (slog.Level, error) {
	level, ok := logLevelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %q (must be error, warn, info, or debug)", name)
	}
	return level, nil
}

// newLogger returns a text logger on w tagged with the active device once
// one is chosen (see withDevice).
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// withDevice scopes a logger to the input device driving the run phase.
func withDevice(logger *slog.Logger, path string) *slog.Logger {
	return logger.With("device", path)
}

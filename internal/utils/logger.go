package utils

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger. Level strings follow
// slog's names (debug, info, warn, error); unrecognised levels fall back
// to info.
func NewLogger(level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

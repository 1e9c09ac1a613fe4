package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger. Deployed environments set
// LOG_FORMAT=json for ingestion; anything else gets readable text.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

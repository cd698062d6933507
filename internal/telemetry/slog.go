package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog default logger from the logging
// configuration.
//
// format "json" selects the JSONHandler (production); anything else selects
// the TextHandler (local development). level is one of "debug", "info",
// "warn", "error" (case-insensitive), defaulting to "info". Source locations
// are attached only at debug level.
//
// Installing the configured logger as the default means the rest of the
// engine calls slog.Info/Warn/Error directly without carrying a *slog.Logger
// around.
func SetupLogger(format, level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

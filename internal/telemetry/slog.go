package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// level is shared by every handler installed through SetupLogger so SetLevel can change the
// effective level at runtime (config hot reload) without rebuilding the logger.
var level = new(slog.LevelVar)

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" (case-insensitive) to a slog
// level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger configures the global slog default logger.
//
// format: "json" selects a JSONHandler; anything else selects a TextHandler.
// level: see ParseLevel.
func SetupLogger(format, lvl string) {
	level.Set(ParseLevel(lvl))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level.Level() == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", level.Level().String())
}

// SetLevel changes the level of the logger installed by SetupLogger
func SetLevel(lvl string) {
	next := ParseLevel(lvl)
	if next == level.Level() {
		return
	}
	level.Set(next)
	slog.Info("log level changed", "level", next.String())
}

// Level returns the current effective level
func Level() slog.Level {
	return level.Level()
}

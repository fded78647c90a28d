package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/lmittmann/tint"

	"github.com/elee1766/parley/src/config"
)

// createCLILogger creates a logger for CLI commands. Text output goes to
// stderr through tint; json output is appended to a file under the XDG
// state directory so it never interleaves with the conversation.
func createCLILogger(level, format string, noColor bool) (*slog.Logger, func()) {
	lvl := parseLogLevel(level)

	if format == "json" {
		file, err := openLogFile()
		if err != nil {
			return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}
		}
		return slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{
			Level: lvl,
		})), func() { _ = file.Close() }
	}

	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:   lvl,
		NoColor: noColor,
	})), func() {}
}

func openLogFile() (*os.File, error) {
	logDir := filepath.Join(xdg.StateHome, config.AppName, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(logDir, config.AppName+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

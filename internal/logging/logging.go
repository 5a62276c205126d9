// Package logging configures the process-wide slog logger: JSON to stdout,
// optionally duplicated into a size-rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the default logger. When dir is non-empty, log lines also
// go to dir/tako.log with rotation (10 MB per file, 5 backups kept).
func Setup(level, dir string) {
	var out io.Writer = os.Stdout
	if dir != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   filepath.Join(dir, "tako.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

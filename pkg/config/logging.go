package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logKeys are the required keys of the [log] section.
var logKeys = []string{"dir", "rotation", "rotation_size_mb", "retention", "level", "console"}

// SetupLogging configures the process-wide slog default from the [log]
// section: a "<prog>.log" file in the configured directory, size-rotated
// when rotation is enabled, optionally mirrored to stderr.
//
// It returns a closer for the log file.
func SetupLogging(f *File, prog string) (io.Closer, error) {
	if err := f.Require("log", logKeys...); err != nil {
		return nil, err
	}

	dir := f.String("log", "dir")
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("log directory %q does not exist", dir)
	}

	file := &lumberjack.Logger{
		Filename: filepath.Join(dir, prog+".log"),
	}
	if f.Bool("log", "rotation") {
		file.MaxSize = f.IntDefault("log", "rotation_size_mb", 10)
		file.MaxBackups = f.IntDefault("log", "retention", 5)
	}

	var w io.Writer = file
	if f.Bool("log", "console") {
		w = io.MultiWriter(file, os.Stderr)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(f.String("log", "level")),
	})
	slog.SetDefault(slog.New(handler))
	return file, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warning", "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

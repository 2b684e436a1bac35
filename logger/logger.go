// Package logger provides a minimal slog-based logging wrapper.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Config describes logger settings.
type Config struct {
	Enabled bool
	Level   string
	Stdout  bool
	File    string
}

// current holds the active *slog.Logger, or nil before Init and when
// logging is disabled. Logging before Init is a silent no-op.
var current atomic.Pointer[slog.Logger]

// Init builds the process logger from the config. Relative log file paths
// resolve against baseDir. A file that cannot be opened degrades to the
// remaining writers and reports the error.
func Init(cfg Config, baseDir string) error {
	if !cfg.Enabled {
		current.Store(nil)
		return nil
	}

	var sinks []io.Writer
	var fileErr error
	if cfg.Stdout {
		sinks = append(sinks, os.Stdout)
	}
	if cfg.File != "" {
		path := resolveLogPath(cfg.File, baseDir)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("logger: create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			fileErr = fmt.Errorf("logger: open log file: %w", err)
		} else {
			sinks = append(sinks, f)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, os.Stdout)
	}

	handler := slog.NewTextHandler(io.MultiWriter(sinks...), &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	current.Store(slog.New(handler))
	return fileErr
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	emit(slog.LevelDebug, msg, args)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	emit(slog.LevelInfo, msg, args)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	emit(slog.LevelWarn, msg, args)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	emit(slog.LevelError, msg, args)
}

func emit(level slog.Level, msg string, args []any) {
	l := current.Load()
	if l == nil {
		return
	}
	l.Log(nil, level, msg, redactKeyvals(args)...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func resolveLogPath(path, baseDir string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// redactKeyvals masks values whose keys look credential-bearing. Log lines
// routinely carry config fragments; keys never leak even at debug level.
func redactKeyvals(args []any) []any {
	if len(args) == 0 {
		return args
	}
	if len(args)%2 == 1 {
		args = append(args, "(missing)")
	}

	out := make([]any, len(args))
	for i := 0; i < len(args); i += 2 {
		key, _ := args[i].(string)
		out[i] = args[i]
		if sensitiveKey(key) {
			out[i+1] = "[REDACTED]"
		} else {
			out[i+1] = args[i+1]
		}
	}
	return out
}

var sensitiveMarkers = []string{"apikey", "api_key", "secret", "token", "authorization", "bearer", "password"}

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

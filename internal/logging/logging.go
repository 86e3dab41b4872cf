// Package logging configures the application's structured loggers.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger

// Init initializes the logging system with a structured JSON logger on
// stdout for log shippers and installs it as the slog default.
func Init(level slog.Level) {
	structuredLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	slog.SetDefault(structuredLogger)
}

// ForService creates a new logger instance with the 'service' attribute
// added. It uses the global structured logger as the base. Returns the
// slog default logger if Init() has not been called, so components can
// log during early startup.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return slog.Default().With("service", serviceName)
	}
	return structuredLogger.With("service", serviceName)
}

// NewFileLogger creates a slog.Logger writing JSON logs to the given
// file path, rotated by lumberjack. It returns the logger, a close
// function for the underlying writer, and an error if setup fails.
func NewFileLogger(filePath, serviceName string, level slog.Level) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	handler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With("service", serviceName)

	return logger, logWriter.Close, nil
}

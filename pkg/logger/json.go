package logger

import (
	"io"
	"log/slog"
	"os"
)

// JSONLogger wraps slog's built-in JSON handler. Grounded on SlogLogger's
// wrapping pattern but intended for production output, where the colored
// handler's ANSI codes are unwanted.
type JSONLogger struct {
	logger *slog.Logger
}

// NewJSONLogger creates a JSONLogger at the given minimum level.
func NewJSONLogger(minLevel slog.Level, writer io.Writer) *JSONLogger {
	if writer == nil {
		writer = os.Stdout
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: minLevel})
	return &JSONLogger{logger: slog.New(handler)}
}

func (l *JSONLogger) Info(msg string, args ...interface{})  { l.logger.Info(msg, formatArgs(args...)...) }
func (l *JSONLogger) Warn(msg string, args ...interface{})  { l.logger.Warn(msg, formatArgs(args...)...) }
func (l *JSONLogger) Error(msg string, args ...interface{}) { l.logger.Error(msg, formatArgs(args...)...) }
func (l *JSONLogger) Debug(msg string, args ...interface{}) { l.logger.Debug(msg, formatArgs(args...)...) }

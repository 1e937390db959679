package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	return []string{"DEBUG", "INFO", "WARN", "ERROR"}[l]
}

// ParseLevel maps a config string to a LogLevel, defaulting to info.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) toSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured JSON logging on top of stdlib slog.
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewLogger creates a JSON logger writing to output (stdout when nil).
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level.toSlogLevel(),
	})
	return &Logger{logger: slog.New(handler), level: level}
}

// WithField returns a logger with key=value attached to every message.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With(key, value), level: l.level}
}

// WithFields returns a logger with all given fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

// WithError attaches an error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(message string) { l.logger.Debug(message) }
func (l *Logger) Info(message string)  { l.logger.Info(message) }
func (l *Logger) Warn(message string)  { l.logger.Warn(message) }
func (l *Logger) Error(message string) { l.logger.Error(message) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// Package stargzlog provides the leveled logger used by the stargz CLI.
package stargzlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Level is the severity of a log message.
type Level int

const (
	// LevelSilent disables all logging.
	LevelSilent Level = iota
	// LevelError shows only errors.
	LevelError
	// LevelWarn shows warnings and errors.
	LevelWarn
	// LevelInfo shows info, warnings, and errors (verbose mode).
	LevelInfo
	// LevelDebug shows everything, including per-chunk tracing.
	LevelDebug
)

var levelNames = map[Level]string{
	LevelSilent: "SILENT",
	LevelError:  "ERROR",
	LevelWarn:   "WARN",
	LevelInfo:   "INFO",
	LevelDebug:  "DEBUG",
}

// Logger is a minimal leveled logger writing to a single io.Writer.
type Logger struct {
	level  Level
	output io.Writer
}

var defaultLogger = &Logger{level: LevelError, output: os.Stderr}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	defaultLogger.level = level
}

// GetLevel returns the current global log level.
func GetLevel() Level {
	return defaultLogger.level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level > l.level {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	message := redact(fmt.Sprintf(format, args...))
	fmt.Fprintf(l.output, "[%s] %s: %s\n", timestamp, levelNames[level], message)
}

// Debug logs at LevelDebug.
func Debug(format string, args ...interface{}) { defaultLogger.log(LevelDebug, format, args...) }

// Info logs at LevelInfo.
func Info(format string, args ...interface{}) { defaultLogger.log(LevelInfo, format, args...) }

// Warn logs at LevelWarn.
func Warn(format string, args ...interface{}) { defaultLogger.log(LevelWarn, format, args...) }

// Error logs at LevelError.
func Error(format string, args ...interface{}) { defaultLogger.log(LevelError, format, args...) }

// redact masks key=value pairs whose key looks secret-shaped (token,
// password, secret, authorization, ...). The format's archives can legally
// carry arbitrary xattr values, and a future caller might log one; this
// keeps that path safe without coupling the logger to any one producer.
func redact(message string) string {
	lower := strings.ToLower(message)
	for _, key := range []string{"token=", "password=", "secret=", "authorization:"} {
		idx := strings.Index(lower, key)
		if idx == -1 {
			continue
		}
		start := idx + len(key)
		for start < len(message) && message[start] == ' ' {
			start++
		}
		end := start
		for end < len(message) && message[end] != '&' && message[end] != ' ' && message[end] != '\n' {
			end++
		}
		if end > start {
			message = message[:start] + "***" + message[end:]
			lower = strings.ToLower(message)
		}
	}
	return message
}

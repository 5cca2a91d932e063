// Package logger is the leveled logger shared by the commands.
package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

// Logger leveled printf-style logging.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Level minimum level a StdLogger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level. Anything else is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// StdLogger writes through the standard log package with a level prefix.
type StdLogger struct {
	logger *log.Logger
	level  Level
}

// NewStdLogger logs to stderr with the given prefix.
func NewStdLogger(prefix string, level Level) *StdLogger {
	return NewWriterLogger(os.Stderr, prefix, level)
}

// NewWriterLogger logs to w.
func NewWriterLogger(w io.Writer, prefix string, level Level) *StdLogger {
	return &StdLogger{logger: log.New(w, prefix, log.LstdFlags), level: level}
}

func (l *StdLogger) Debug(msg string, args ...interface{}) { l.print(LevelDebug, "[DEBUG] ", msg, args) }
func (l *StdLogger) Info(msg string, args ...interface{}) { l.print(LevelInfo, "[INFO] ", msg, args) }
func (l *StdLogger) Warn(msg string, args ...interface{}) { l.print(LevelWarn, "[WARN] ", msg, args) }
func (l *StdLogger) Error(msg string, args ...interface{}) { l.print(LevelError, "[ERROR] ", msg, args) }

func (l *StdLogger) print(level Level, tag, msg string, args []interface{}) {
	if level < l.level {
		return
	}
	l.logger.Printf(tag+msg, args...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, ...interface{}) {}
func (Nop) Info(string, ...interface{}) {}
func (Nop) Warn(string, ...interface{}) {}
func (Nop) Error(string, ...interface{}) {}

package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the application logger. It wraps logrus so components can log
// with printf-style helpers or attach structured fields.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger writing to stdout. Level is a logrus level name
// and format is "json" or "text"; unknown values fall back to info/text.
func NewLogger(level, format string) *Logger {
	return newLogger(os.Stdout, level, format)
}

// NewDiscardLogger returns a logger that drops everything, for tests.
func NewDiscardLogger() *Logger {
	return newLogger(io.Discard, "panic", "text")
}

func newLogger(out io.Writer, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{entry: logrus.NewEntry(l)}
}

// WithField returns a logger that adds key=value to every message.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger that adds fields to every message.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

// Warn logs a warning
func (l *Logger) Warn(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.entry.Fatalf(format, v...)
}

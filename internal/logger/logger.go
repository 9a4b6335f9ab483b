// Package logger wraps logrus with the service's field conventions.
package logger

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Fields is an alias so callers don't import logrus directly.
type Fields = logrus.Fields

// Logger wraps logrus.Entry.
type Logger struct {
	*logrus.Entry
	closer io.Closer
}

// Config holds logger configuration.
type Config struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // defaults to stderr
	File        string    // optional rotating file written next to Output
	MaxSizeMB   int
	ServiceName string
}

// New creates a Logger. A nil config logs text at info level to stderr.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{Level: "info", Format: "text"}
	}

	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}

	var closer io.Closer
	if cfg.File != "" {
		fw := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: 5,
			Compress:   true,
		}
		out = io.MultiWriter(out, fw)
		closer = fw
	}
	log.SetOutput(out)

	service := cfg.ServiceName
	if service == "" {
		service = "face-attendance"
	}

	return &Logger{Entry: log.WithField("service", service), closer: closer}
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// WithField returns a derived Logger with one extra field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value), closer: l.closer}
}

// WithFields returns a derived Logger with extra fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields), closer: l.closer}
}

// WithError returns a derived Logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err), closer: l.closer}
}

// Component tags a logger with the emitting subsystem.
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

var (
	defaultLogger = New(nil)
	defaultMu     sync.RWMutex
)

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger. nil is ignored.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

type contextKey struct{}

// WithContext stores l in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
			return l
		}
	}
	return Default()
}

// Discard returns a logger that writes nowhere. Useful in tests.
func Discard() *Logger {
	return New(&Config{Level: "panic", Output: io.Discard})
}

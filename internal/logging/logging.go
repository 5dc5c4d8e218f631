// Package logging adapts logrus (with lumberjack-backed file rotation)
// to pkg/doip.Logger, following the adapter shape of
// firestige-Otus/internal/log/logger_adapter.go: an entry-wrapping
// struct with one method per level, Level parsed from a string with an
// InfoLevel fallback, and output directed through a writer the caller
// configures rather than hardcoded to stdout.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how log output is written. Filename is empty
// to log to stdout only; set it to also receive, lumberjack.v2-style,
// size/age-rotated file output.
type Config struct {
	Level      string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig logs at info level to stdout only.
func DefaultConfig() Config {
	return Config{Level: "info", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 28}
}

// Adapter wraps a logrus.Entry to satisfy doip.Logger (Debug/Debugf/
// Info/Infof/Warn/Warnf/Error/Errorf).
type Adapter struct {
	entry *logrus.Entry
}

// New builds an Adapter per cfg.
func New(cfg Config) *Adapter {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Filename != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	l.SetOutput(out)

	return &Adapter{entry: logrus.NewEntry(l)}
}

// WithField returns an Adapter that annotates every subsequent line with
// field, used to tag log output with a connection id the way
// pkg/doip.Connection identifies itself in its own messages.
func (a *Adapter) WithField(field string, value interface{}) *Adapter {
	return &Adapter{entry: a.entry.WithField(field, value)}
}

func (a *Adapter) Debug(v ...interface{})                 { a.entry.Debug(v...) }
func (a *Adapter) Debugf(format string, v ...interface{}) { a.entry.Debugf(format, v...) }
func (a *Adapter) Info(v ...interface{})                  { a.entry.Info(v...) }
func (a *Adapter) Infof(format string, v ...interface{})  { a.entry.Infof(format, v...) }
func (a *Adapter) Warn(v ...interface{})                  { a.entry.Warn(v...) }
func (a *Adapter) Warnf(format string, v ...interface{})  { a.entry.Warnf(format, v...) }
func (a *Adapter) Error(v ...interface{})                 { a.entry.Error(v...) }
func (a *Adapter) Errorf(format string, v ...interface{}) { a.entry.Errorf(format, v...) }

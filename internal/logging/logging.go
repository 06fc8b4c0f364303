// Package logging wraps logrus behind package-level helpers and owns the
// gateway's log destinations: stderr by default, an optional rotated file,
// and the dated prompt log.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the base logger destination and verbosity.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File, when set, sends log output to a rotated file instead of stderr.
	File string
	// MaxSizeMB bounds a single log file before rotation. Zero means 50.
	MaxSizeMB int
	// MaxBackups bounds rotated files kept on disk. Zero means 5.
	MaxBackups int
}

var base = logrus.New()

// Setup configures the process-wide logger. Safe to call once at bootstrap;
// subsequent log calls from any goroutine observe the configured sinks.
func Setup(opts Options) error {
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level, err := logrus.ParseLevel(defaultString(strings.ToLower(opts.Level), "info"))
	if err != nil {
		return err
	}
	base.SetLevel(level)

	if opts.File == "" {
		base.SetOutput(os.Stderr)
		return nil
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    defaultInt(opts.MaxSizeMB, 50),
		MaxBackups: defaultInt(opts.MaxBackups, 5),
		Compress:   true,
	}
	base.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

// SetOutput redirects the base logger; used by tests to capture output.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// Fields is re-exported so callers do not import logrus directly.
type Fields = logrus.Fields

// WithFields returns a structured entry on the base logger.
func WithFields(fields Fields) *logrus.Entry {
	return base.WithFields(fields)
}

// WithError returns an entry carrying err under the standard error key.
func WithError(err error) *logrus.Entry {
	return base.WithError(err)
}

func Debug(args ...any)                 { base.Debug(args...) }
func Debugf(format string, args ...any) { base.Debugf(format, args...) }
func Info(args ...any)                  { base.Info(args...) }
func Infof(format string, args ...any)  { base.Infof(format, args...) }
func Warn(args ...any)                  { base.Warn(args...) }
func Warnf(format string, args ...any)  { base.Warnf(format, args...) }
func Error(args ...any)                 { base.Error(args...) }
func Errorf(format string, args ...any) { base.Errorf(format, args...) }
func Fatalf(format string, args ...any) { base.Fatalf(format, args...) }

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func defaultInt(n, fallback int) int {
	if n == 0 {
		return fallback
	}
	return n
}

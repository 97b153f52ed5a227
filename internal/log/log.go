// Package log provides structured logging for the hub runtime using
// logrus.
package log

import (
	"sync"

	"firestige.xyz/vanilla/internal/config"
)

// Logger is the logging surface every package in this module uses.
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	once   sync.Once
	logger Logger
)

// GetLogger returns the process-wide Logger, defaulting to stdout-only at
// info level if Init was never called.
func GetLogger() Logger {
	once.Do(func() {
		if logger == nil {
			logger = newLogrusAdapter(config.LogConfig{Level: "info", Format: "text", Pattern: defaultPattern})
		}
	})
	return logger
}

// Init configures the process-wide Logger from cfg. Only the first call
// takes effect, and only if GetLogger has not run yet; any other call is
// a no-op.
func Init(cfg config.LogConfig) {
	once.Do(func() {
		logger = newLogrusAdapter(cfg)
	})
}

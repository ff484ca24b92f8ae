// Package logging contains the structured, leveled logging used throughout the plant. Loggers are
// zap sugared loggers underneath and write to a set of appenders: the console, a rotating file, or
// the running test.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// DefaultTimeFormatStr is the timestamp layout shared by every appender.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// GlobalLogLevel is raised to debug by the --debug flag. Every logger observes it in addition to
// its own level.
var GlobalLogLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

// NewLogger returns a registered logger that writes Info+ to stdout in UTC.
func NewLogger(name string) Logger {
	return register(newImpl(name, INFO, true, NewStdoutAppender()))
}

// NewBlankLogger returns an unregistered Debug+ logger with no appenders. Add one to see output.
func NewBlankLogger(name string) Logger {
	return newImpl(name, DEBUG, true)
}

// NewTestLogger returns a Debug+ logger that writes to tb in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is NewTestLogger that also records every entry for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return newImpl("", DEBUG, false, NewTestAppender(tb), core), logs
}

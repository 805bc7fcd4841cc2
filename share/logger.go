package bsshare

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel specifies how much spew goes to the log
type LogLevel int32

const (
	// LogLevelUnknown is the zero value; it is treated as LogLevelInfo
	LogLevelUnknown LogLevel = iota

	// LogLevelPanic logs and then panics
	LogLevelPanic

	// LogLevelFatal logs and then exits with status 1
	LogLevelFatal

	// LogLevelError is for unexpected failures
	LogLevelError

	// LogLevelWarning is for recoverable anomalies such as dropped frames or echo collisions
	LogLevelWarning

	// LogLevelInfo is for lifecycle events
	LogLevelInfo

	// LogLevelDebug is for per-frame routing decisions
	LogLevelDebug

	// LogLevelTrace is for frame dumps
	LogLevelTrace
)

var logLevelNames = [...]string{
	"unknown", "panic", "fatal", "error", "warning", "info", "debug", "trace",
}

// StringToLogLevel converts a level name (case-insensitive, "warn" accepted) to a LogLevel.
// Unrecognized names yield LogLevelUnknown.
func StringToLogLevel(s string) LogLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warn" {
		return LogLevelWarning
	}
	for i, name := range logLevelNames {
		if name == s {
			return LogLevel(i)
		}
	}
	return LogLevelUnknown
}

func (x LogLevel) String() string {
	if x < LogLevelUnknown || x > LogLevelTrace {
		x = LogLevelUnknown
	}
	return logLevelNames[x]
}

// FromString initializes a LogLevel from a string
func (x *LogLevel) FromString(s string) error {
	result := StringToLogLevel(s)
	if result == LogLevelUnknown {
		return fmt.Errorf("Unknown log level: \"%s\"", s)
	}
	*x = result
	return nil
}

// Logger is a leveled logging component with a prefix that can be forked
// for sub-components. Errors created through a Logger carry its prefix.
type Logger interface {
	// Prefix returns the prefix without the ": " trailer
	Prefix() string

	GetLogLevel() LogLevel
	SetLogLevel(logLevel LogLevel)

	// Logf outputs iff logLevel is enabled
	Logf(logLevel LogLevel, f string, args ...interface{})

	ELogf(f string, args ...interface{})
	WLogf(f string, args ...interface{})
	ILogf(f string, args ...interface{})
	DLogf(f string, args ...interface{})
	TLogf(f string, args ...interface{})

	// Panicf logs and then panics
	Panicf(f string, args ...interface{})

	// Fatalf logs and then exits with status 1
	Fatalf(f string, args ...interface{})

	// Errorf returns an error with the Logger's prefix; %w is honored
	Errorf(f string, args ...interface{}) error

	// ELogErrorf logs at error level and returns the same message as an error
	ELogErrorf(f string, args ...interface{}) error

	// WLogErrorf logs at warning level and returns the same message as an error
	WLogErrorf(f string, args ...interface{}) error

	// DLogErrorf logs at debug level and returns the same message as an error
	DLogErrorf(f string, args ...interface{}) error

	// Sprintf returns a string that has the Logger's prefix
	Sprintf(f string, args ...interface{}) string

	// Fork creates a Logger whose prefix is this Logger's prefix, ": ", and
	// the formatted string. The fork shares the output and the level.
	Fork(prefix string, args ...interface{}) Logger
}

// BasicLogger is a logical log output stream with a level filter and a
// prefix added to each record
type BasicLogger struct {
	prefix string
	// prefixC is prefix if prefix is empty; otherwise prefix + ": "
	prefixC  string
	out      *log.Logger
	logLevel *int32
}

const defaultLogFlags = log.Ldate | log.Ltime

// NewLogger creates a Logger writing to os.Stderr
func NewLogger(prefix string, logLevel LogLevel) Logger {
	return NewLoggerWithWriter(os.Stderr, prefix, logLevel)
}

// NewLoggerWithWriter creates a Logger writing to w with the default flags
func NewLoggerWithWriter(w io.Writer, prefix string, logLevel LogLevel) Logger {
	if logLevel == LogLevelUnknown {
		logLevel = LogLevelInfo
	}
	level := int32(logLevel)
	return newBasicLogger(log.New(w, "", defaultLogFlags), prefix, &level)
}

func newBasicLogger(out *log.Logger, prefix string, level *int32) *BasicLogger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	return &BasicLogger{prefix: prefix, prefixC: prefixC, out: out, logLevel: level}
}

func (l *BasicLogger) enabled(logLevel LogLevel) bool {
	return logLevel <= l.GetLogLevel() || logLevel <= LogLevelFatal
}

// Logf outputs to the Logger if logLevel is enabled, then panics or exits
// for LogLevelPanic and LogLevelFatal
func (l *BasicLogger) Logf(logLevel LogLevel, f string, args ...interface{}) {
	if !l.enabled(logLevel) {
		return
	}
	msg := l.Sprintf(f, args...)
	l.out.Print(msg)
	switch logLevel {
	case LogLevelFatal:
		os.Exit(1)
	case LogLevelPanic:
		panic(msg)
	}
}

// ELogf logs at error level
func (l *BasicLogger) ELogf(f string, args ...interface{}) { l.Logf(LogLevelError, f, args...) }

// WLogf logs at warning level
func (l *BasicLogger) WLogf(f string, args ...interface{}) { l.Logf(LogLevelWarning, f, args...) }

// ILogf logs at info level
func (l *BasicLogger) ILogf(f string, args ...interface{}) { l.Logf(LogLevelInfo, f, args...) }

// DLogf logs at debug level
func (l *BasicLogger) DLogf(f string, args ...interface{}) { l.Logf(LogLevelDebug, f, args...) }

// TLogf logs at trace level
func (l *BasicLogger) TLogf(f string, args ...interface{}) { l.Logf(LogLevelTrace, f, args...) }

// Panicf logs and then panics
func (l *BasicLogger) Panicf(f string, args ...interface{}) { l.Logf(LogLevelPanic, f, args...) }

// Fatalf logs and then exits
func (l *BasicLogger) Fatalf(f string, args ...interface{}) { l.Logf(LogLevelFatal, f, args...) }

// Errorf returns an error object with a description string that has the
// Logger's prefix. A %w verb wraps its operand as fmt.Errorf does.
func (l *BasicLogger) Errorf(f string, args ...interface{}) error {
	err := fmt.Errorf("%s"+f, append([]interface{}{l.prefixC}, args...)...)
	if errors.Unwrap(err) == nil {
		return errors.New(err.Error())
	}
	return err
}

func (l *BasicLogger) logErrorf(logLevel LogLevel, f string, args ...interface{}) error {
	err := l.Errorf(f, args...)
	if l.enabled(logLevel) {
		l.out.Print(err.Error())
	}
	return err
}

// ELogErrorf logs at error level and returns the message as an error
func (l *BasicLogger) ELogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelError, f, args...)
}

// WLogErrorf logs at warning level and returns the message as an error
func (l *BasicLogger) WLogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelWarning, f, args...)
}

// DLogErrorf logs at debug level and returns the message as an error
func (l *BasicLogger) DLogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelDebug, f, args...)
}

// Sprintf returns a string that has the Logger's prefix
func (l *BasicLogger) Sprintf(f string, args ...interface{}) string {
	return l.prefixC + fmt.Sprintf(f, args...)
}

// Fork creates a new Logger that has an additional formatted string appended onto
// an existing logger's prefix (with ": " added between)
func (l *BasicLogger) Fork(prefix string, args ...interface{}) Logger {
	sub := fmt.Sprintf(prefix, args...)
	if l.prefix != "" {
		sub = l.prefix + ": " + sub
	}
	return newBasicLogger(l.out, sub, l.logLevel)
}

// Prefix returns the Logger's prefix string (does not include ": " trailer)
func (l *BasicLogger) Prefix() string {
	return l.prefix
}

// GetLogLevel returns the log level
func (l *BasicLogger) GetLogLevel() LogLevel {
	return LogLevel(atomic.LoadInt32(l.logLevel))
}

// SetLogLevel sets the log level for this Logger and every fork sharing it
func (l *BasicLogger) SetLogLevel(logLevel LogLevel) {
	atomic.StoreInt32(l.logLevel, int32(logLevel))
}

// Package logx provides structured leveled logging for the resource-control core.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level identifies the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes structured, leveled log lines tagged with a component name.
// The core never logs secret material (API keys, auth headers); callers must
// only pass already-sanitized fields.
type Logger struct {
	component string
	out       *log.Logger
	mu        sync.Mutex
	debug     bool
}

// New creates a Logger for the given component (e.g. "endpoint", "breaker").
func New(component string) *Logger {
	return &Logger{
		component: component,
		out:       log.New(os.Stderr, "", 0),
		debug:     debugEnabledFromEnv(),
	}
}

func debugEnabledFromEnv() bool {
	v := os.Getenv("DEBUG")
	return v == "1" || strings.EqualFold(v, "true")
}

// WithComponent returns a copy of the logger tagged with a different component name.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{component: component, out: l.out, debug: l.debug}
}

// SetDebug enables or disables debug-level output for this logger.
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = enabled
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)
}

// Debug logs a debug-level message; suppressed unless debug logging is enabled.
func (l *Logger) Debug(format string, args ...any) {
	l.mu.Lock()
	enabled := l.debug
	l.mu.Unlock()
	if !enabled {
		return
	}
	l.log(LevelDebug, format, args...)
}

// Debugf is an alias for Debug, kept for call-site parity with the other levels.
func (l *Logger) Debugf(format string, args ...any) { l.Debug(format, args...) }

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Infof is an alias for Info.
func (l *Logger) Infof(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warn logs a warning-level message.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Warnf is an alias for Warn.
func (l *Logger) Warnf(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Error logs an error-level message and returns it as an error value, mirroring
// the fmt.Errorf idiom so call sites can `return logger.Errorf(...)`.
func (l *Logger) Error(format string, args ...any) error {
	l.log(LevelError, format, args...)
	return fmt.Errorf(format, args...)
}

// Errorf is an alias for Error.
func (l *Logger) Errorf(format string, args ...any) error { return l.Error(format, args...) }

// Nop returns a Logger whose output is discarded. Useful as a zero-value default
// for components constructed without an explicit logger.
func Nop() *Logger {
	return &Logger{component: "nop", out: log.New(discard{}, "", 0)}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

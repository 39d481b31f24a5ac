// Package logx provides component-scoped leveled logging.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level identifies the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes leveled, component-prefixed log lines.
type Logger struct {
	component string
	logger    *log.Logger
}

var (
	debugEnabled bool
	debugOnce    sync.Once

	outputMu sync.RWMutex
	output   io.Writer = os.Stderr
)

// debugOn reports whether debug logging was requested via the DEBUG env var.
func debugOn() bool {
	debugOnce.Do(func() {
		v := strings.ToLower(os.Getenv("DEBUG"))
		debugEnabled = v == "1" || v == "true" || v == "yes"
	})
	return debugEnabled
}

// SetOutput redirects all loggers to w. Used by tests to capture output.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// NewLogger creates a logger scoped to the given component name.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(writerProxy{}, "", log.LstdFlags),
	}
}

// writerProxy routes log output through the package-level output writer so
// SetOutput affects loggers created before the call.
type writerProxy struct{}

func (writerProxy) Write(p []byte) (int, error) {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return output.Write(p)
}

func (l *Logger) logf(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s", level, l.component, msg)
}

// Debug logs a debug message. Suppressed unless DEBUG is set in the environment.
func (l *Logger) Debug(format string, args ...any) {
	if !debugOn() {
		return
	}
	l.logf(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.logf(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.logf(LevelError, format, args...)
}

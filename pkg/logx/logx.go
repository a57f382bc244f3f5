// Package logx provides the structured logger used by every stashd component.
// It is a thin wrapper over logrus that accepts either alternating key-value
// pairs or a single map of fields on each call site.
package logx

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	log       *logrus.Logger
	component string
}

// NewLogger creates a logger for a component at the given level. Unknown
// levels fall back to info.
func NewLogger(level, component string) *Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	log.SetLevel(parseLevel(level))

	return &Logger{
		log:       log,
		component: component,
	}
}

// SetLevel changes the logger's level at runtime.
func (l *Logger) SetLevel(level string) {
	l.log.SetLevel(parseLevel(level))
}

// SetOutput redirects log output, used by the daemon when a log file is
// configured.
func (l *Logger) SetOutput(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.log.SetOutput(f)
	return nil
}

// Trace logs at trace level.
func (l *Logger) Trace(msg string, fields ...interface{}) {
	l.entry(fields...).Trace(msg)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.entry(fields...).Debug(msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.entry(fields...).Info(msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.entry(fields...).Warn(msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.entry(fields...).Error(msg)
}

// LogVerbose logs a named event with a field map at info level when verbose
// detail is wanted without changing the level of the surrounding code.
func (l *Logger) LogVerbose(event string, fields map[string]interface{}) {
	l.entry(fields).WithField("event", event).Info(event)
}

// LogDebugVerbose logs a named event with a field map at debug level.
func (l *Logger) LogDebugVerbose(event string, fields map[string]interface{}) {
	l.entry(fields).WithField("event", event).Debug(event)
}

func (l *Logger) entry(fields ...interface{}) *logrus.Entry {
	e := l.log.WithFields(logrus.Fields{})
	if l.component != "" {
		e = e.WithField("component", l.component)
	}
	return e.WithFields(collectFields(fields...))
}

// collectFields accepts either a single map[string]interface{} or alternating
// "key", value pairs. Dangling keys get a nil value rather than being dropped.
func collectFields(fields ...interface{}) logrus.Fields {
	out := logrus.Fields{}

	if len(fields) == 1 {
		if m, ok := fields[0].(map[string]interface{}); ok {
			for k, v := range m {
				out[k] = v
			}
			return out
		}
	}

	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(fields) {
			out[key] = fields[i+1]
		} else {
			out[key] = nil
		}
	}

	return out
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

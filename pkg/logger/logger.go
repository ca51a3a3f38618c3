// Package logger provides structured logging with per-component prefixes
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithComponent(component string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// ComponentLogger implements Logger on top of logrus
type ComponentLogger struct {
	logger    *logrus.Logger
	component string
	mu        sync.RWMutex
}

// CustomFormatter formats logs with colors and a component prefix
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	case logrus.DebugLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	default:
		levelColor = color.New(color.FgGreen)
		levelText = "TRACE"
	}

	data := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}

	componentPrefix := ""
	if component, ok := data["component"]; ok {
		if f.DisableColors {
			componentPrefix = fmt.Sprintf("[%s] ", component)
		} else {
			componentPrefix = fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(component))
		}
		delete(data, "component")
	}

	var output string
	if f.DisableColors {
		output = fmt.Sprintf("[%s] %s: %s%s", timestamp, levelText, componentPrefix, entry.Message)
	} else {
		output = fmt.Sprintf("[%s] %s: %s%s",
			timestamp,
			levelColor.Sprint(levelText),
			componentPrefix,
			entry.Message,
		)
	}

	if len(data) > 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
		}
		fields := " {" + strings.Join(parts, ", ") + "}"
		if f.DisableColors {
			output += fields
		} else {
			output += color.New(color.FgWhite, color.Faint).Sprint(fields)
		}
	}

	return []byte(output + "\n"), nil
}

func newLogrus(logLevel string, disableColors bool) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   disableColors,
	})
	return log
}

// CreateLogger creates a new logger writing to stderr and, when logFile is
// set, appending to that file as well.
func CreateLogger(logFile string, logLevel string) Logger {
	log := newLogrus(logLevel, false)
	log.SetOutput(os.Stderr)

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			log.SetOutput(io.MultiWriter(os.Stderr, file))
		}
	}

	return &ComponentLogger{logger: log}
}

// CreateLoggerWithOutput creates a logger with custom output (for testing)
func CreateLoggerWithOutput(logLevel string, output io.Writer) Logger {
	log := newLogrus(logLevel, true)
	log.SetOutput(output)
	return &ComponentLogger{logger: log}
}

// Discard returns a logger that drops every message
func Discard() Logger {
	return CreateLoggerWithOutput("panic", io.Discard)
}

// WithComponent creates a new logger tagged with the given component
func (l *ComponentLogger) WithComponent(component string) Logger {
	return &ComponentLogger{
		logger:    l.logger,
		component: component,
	}
}

func (l *ComponentLogger) convertFields(fields []Field) logrus.Fields {
	result := make(logrus.Fields, len(fields)+1)
	if l.component != "" {
		result["component"] = l.component
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

// Info logs an info message
func (l *ComponentLogger) Info(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info(message)
}

// Error logs an error message
func (l *ComponentLogger) Error(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Error(message)
}

// Warn logs a warning message
func (l *ComponentLogger) Warn(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Warn(message)
}

// Debug logs a debug message
func (l *ComponentLogger) Debug(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Debug(message)
}

// Success logs a success message at info level
func (l *ComponentLogger) Success(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info("✅ " + message)
}

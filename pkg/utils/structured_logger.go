package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogFormat defines the output format for logs
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// LogEntry represents a complete log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// StructuredLogger provides structured logging with levels and fields.
// Loggers derived with WithField share the parent's output.
type StructuredLogger struct {
	mu              *sync.Mutex // serializes writes to output
	level           LogLevel
	output          io.Writer
	format          LogFormat
	contextFields   map[string]interface{}
	componentLevels map[string]LogLevel
}

// StructuredLoggerConfig holds configuration for the logger
type StructuredLoggerConfig struct {
	Level  LogLevel
	Output io.Writer
	Format LogFormat

	// ComponentLevels overrides Level for loggers whose component field
	// matches a key
	ComponentLevels map[string]LogLevel
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil || config.Output == nil {
		return nil, fmt.Errorf("logger output cannot be nil")
	}

	componentLevels := make(map[string]LogLevel, len(config.ComponentLevels))
	for component, level := range config.ComponentLevels {
		componentLevels[component] = level
	}

	return &StructuredLogger{
		mu:              &sync.Mutex{},
		level:           config.Level,
		output:          config.Output,
		format:          config.Format,
		contextFields:   make(map[string]interface{}),
		componentLevels: componentLevels,
	}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *StructuredLogger {
	logger, _ := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  FATAL + 1,
		Output: io.Discard,
	})
	return logger
}

// WithField returns a new logger with an additional context field
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	fields := make(map[string]interface{}, len(sl.contextFields)+1)
	for k, v := range sl.contextFields {
		fields[k] = v
	}
	fields[key] = value

	derived := *sl
	derived.contextFields = fields
	return &derived
}

// WithComponent returns a logger with a component field
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

func (sl *StructuredLogger) isEnabled(level LogLevel) bool {
	if component, ok := sl.contextFields["component"].(string); ok {
		if compLevel, exists := sl.componentLevels[component]; exists {
			return level >= compLevel
		}
	}
	return level >= sl.level
}

func (sl *StructuredLogger) log(level LogLevel, message string, fields []map[string]interface{}) {
	if sl == nil || !sl.isEnabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}, len(sl.contextFields)),
	}

	for k, v := range sl.contextFields {
		entry.Fields[k] = v
	}
	if len(fields) > 0 {
		for k, v := range fields[0] {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			entry.Fields[k] = v
		}
	}

	var output string
	if sl.format == FormatJSON {
		jsonBytes, err := json.Marshal(entry)
		if err != nil {
			output = formatText(entry)
		} else {
			output = string(jsonBytes) + "\n"
		}
	} else {
		output = formatText(entry)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	_, _ = io.WriteString(sl.output, output)
}

// formatText formats a log entry as human-readable text with fields in key order
func formatText(entry LogEntry) string {
	var sb strings.Builder

	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")
	sb.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, entry.Fields[k])
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")
	return sb.String()
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(DEBUG, message, fields)
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(INFO, message, fields)
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(WARN, message, fields)
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(ERROR, message, fields)
}

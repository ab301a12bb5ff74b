// Package logging is the ambient structured logger shared by the app wiring,
// the facade and the FUSE adapter: leveled, field-tagged, text or JSON, with per-component
// level overrides so a single mount can run "debug" for the resolver while
// everything else stays at "info".
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel orders log severities from the most to the least verbose.
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a case-insensitive level name, defaulting to INFO on
// failure.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", level)
	}
}

// LogFormat selects how a Logger renders entries.
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// Field is a single structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// LogEntry is one rendered log record.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Logger is a leveled, field-tagged logger. The zero value is not usable;
// construct one with New.
type Logger struct {
	mu              sync.RWMutex
	level           LogLevel
	output          io.Writer
	format          LogFormat
	contextFields   map[string]interface{}
	includeCaller   bool
	componentLevels map[string]LogLevel
}

// Config configures a new Logger.
type Config struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
}

// DefaultConfig returns a text logger at INFO writing to stdout with caller
// information included.
func DefaultConfig() *Config {
	return &Config{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// New builds a Logger from cfg, falling back to DefaultConfig when cfg is
// nil.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Logger{
		level:           cfg.Level,
		output:          cfg.Output,
		format:          cfg.Format,
		contextFields:   make(map[string]interface{}),
		includeCaller:   cfg.IncludeCaller,
		componentLevels: make(map[string]LogLevel),
	}
}

// WithField returns a derived logger carrying an additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fields := make(map[string]interface{}, len(l.contextFields)+1)
	for k, v := range l.contextFields {
		fields[k] = v
	}
	fields[key] = value
	return l.clone(fields)
}

// WithFields returns a derived logger carrying additional context fields.
func (l *Logger) WithFields(extra map[string]interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fields := make(map[string]interface{}, len(l.contextFields)+len(extra))
	for k, v := range l.contextFields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return l.clone(fields)
}

// WithComponent returns a derived logger tagged with a "component" field,
// eligible for a per-component level override via SetComponentLevel.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

func (l *Logger) clone(fields map[string]interface{}) *Logger {
	return &Logger{
		level:           l.level,
		output:          l.output,
		format:          l.format,
		contextFields:   fields,
		includeCaller:   l.includeCaller,
		componentLevels: l.componentLevels,
	}
}

// SetComponentLevel overrides the minimum level logged for a component.
func (l *Logger) SetComponentLevel(component string, level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

// SetLevel changes the logger's global minimum level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the logger's global minimum level.
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) isEnabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if component, ok := l.contextFields["component"].(string); ok {
		if compLevel, exists := l.componentLevels[component]; exists {
			return level >= compLevel
		}
	}
	return level >= l.level
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	if !l.isEnabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	l.mu.RLock()
	for k, v := range l.contextFields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()
	for k, v := range fields {
		entry.Fields[k] = v
	}

	if l.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	var rendered string
	if l.format == FormatJSON {
		jsonBytes, err := json.Marshal(entry)
		if err != nil {
			rendered = l.formatText(entry)
		} else {
			rendered = string(jsonBytes) + "\n"
		}
	} else {
		rendered = l.formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(rendered))
}

func (l *Logger) formatText(entry LogEntry) string {
	var sb strings.Builder
	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")
	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}
	sb.WriteString(entry.Message)
	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

func (l *Logger) logWithFields(level LogLevel, message string, fieldMaps ...map[string]interface{}) {
	var fields map[string]interface{}
	if len(fieldMaps) > 0 && fieldMaps[0] != nil {
		fields = fieldMaps[0]
	}
	l.log(level, message, fields)
}

func (l *Logger) Trace(message string, fields ...map[string]interface{}) { l.logWithFields(TRACE, message, fields...) }
func (l *Logger) Debug(message string, fields ...map[string]interface{}) { l.logWithFields(DEBUG, message, fields...) }
func (l *Logger) Info(message string, fields ...map[string]interface{})  { l.logWithFields(INFO, message, fields...) }
func (l *Logger) Warn(message string, fields ...map[string]interface{})  { l.logWithFields(WARN, message, fields...) }
func (l *Logger) Error(message string, fields ...map[string]interface{}) { l.logWithFields(ERROR, message, fields...) }

// Fatal logs at FATAL and terminates the process.
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.logWithFields(FATAL, message, fields...)
	os.Exit(1)
}

func (l *Logger) Tracef(format string, args ...interface{}) { l.log(TRACE, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(DEBUG, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(INFO, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(WARN, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(ERROR, fmt.Sprintf(format, args...), nil) }

// Fatalf logs a formatted message at FATAL and terminates the process.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

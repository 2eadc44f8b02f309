// Package logging provides structured logging for raftd.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a string into a Level. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	level, ok := lookupLevel(s)
	if !ok {
		return LevelInfo
	}
	return level
}

// ValidLevel reports whether s names a level.
func ValidLevel(s string) bool {
	_, ok := lookupLevel(s)
	return ok
}

func lookupLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	if strings.ToLower(strings.TrimSpace(s)) == "json" {
		return FormatJSON
	}
	return FormatText
}

// ValidFormat reports whether s names a format.
func ValidFormat(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "text":
		return true
	}
	return false
}

// Logger is the interface for structured logging. It satisfies the
// logger the raft package expects.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	// WithRequestID returns a new logger with the given request ID.
	WithRequestID(requestID string) Logger
	// WithComponent returns a new logger tagged with a component name.
	WithComponent(component string) Logger
	// WithFields returns a new logger with the given fields.
	WithFields(keysAndValues ...interface{}) Logger
}

// output is shared by a logger and all loggers derived from it.
type output struct {
	mu sync.Mutex
	w  io.Writer
}

type logger struct {
	level     Level
	format    Format
	out       *output
	fields    map[string]interface{}
	component string
	requestID string
}

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	Output string // stdout, stderr or a file path
}

// New creates a new Logger with the given configuration. A file output
// that cannot be opened falls back to stderr.
func New(cfg Config) Logger {
	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot open %s: %v\n", cfg.Output, err)
			w = os.Stderr
		} else {
			w = f
		}
	}
	return NewWithWriter(ParseLevel(cfg.Level), ParseFormat(cfg.Format), w)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(level Level, format Format, w io.Writer) Logger {
	return &logger{
		level:  level,
		format: format,
		out:    &output{w: w},
		fields: make(map[string]interface{}),
	}
}

// NewDefault creates a new Logger with default settings.
func NewDefault() Logger {
	return NewWithWriter(LevelInfo, FormatText, os.Stderr)
}

// NewNop creates a no-op logger that discards all output.
func NewNop() Logger {
	return nopLogger{}
}

func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues)
}

func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues)
}

func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues)
}

func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues)
}

func (l *logger) WithRequestID(requestID string) Logger {
	child := l.clone()
	child.requestID = requestID
	return child
}

func (l *logger) WithComponent(component string) Logger {
	child := l.clone()
	child.component = component
	return child
}

func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	child := l.clone()
	addPairs(child.fields, keysAndValues)
	return child
}

func (l *logger) clone() *logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &logger{
		level:     l.level,
		format:    l.format,
		out:       l.out,
		fields:    fields,
		component: l.component,
		requestID: l.requestID,
	}
}

// addPairs copies key-value pairs into dst. Errors are stored by their
// message so they survive JSON encoding; a trailing key without a value
// is dropped.
func addPairs(dst map[string]interface{}, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		value := keysAndValues[i+1]
		if err, ok := value.(error); ok && err != nil {
			value = err.Error()
		}
		dst[key] = value
	}
}

func (l *logger) log(level Level, msg string, keysAndValues []interface{}) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(keysAndValues)/2+5)
	for k, v := range l.fields {
		entry[k] = v
	}
	addPairs(entry, keysAndValues)
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.component != "" {
		entry["component"] = l.component
	}
	if l.requestID != "" {
		entry["request_id"] = l.requestID
	}

	var line string
	if l.format == FormatJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			line = fmt.Sprintf(`{"ts":%q,"level":"error","msg":"failed to marshal log entry"}`, entry["ts"])
		} else {
			line = string(data)
		}
	} else {
		line = formatText(entry)
	}

	l.out.mu.Lock()
	fmt.Fprintln(l.out.w, line)
	l.out.mu.Unlock()
}

var reservedKeys = map[string]bool{"ts": true, "level": true, "msg": true, "component": true, "request_id": true}

// formatText renders an entry as text with the remaining fields sorted.
func formatText(entry map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", entry["ts"], entry["level"])
	if c, ok := entry["component"]; ok {
		fmt.Fprintf(&b, " %s:", c)
	}
	fmt.Fprintf(&b, " %s", entry["msg"])
	if id, ok := entry["request_id"]; ok {
		fmt.Fprintf(&b, " request_id=%v", id)
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		if !reservedKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry[k])
	}
	return b.String()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})       {}
func (nopLogger) Info(string, ...interface{})        {}
func (nopLogger) Warn(string, ...interface{})        {}
func (nopLogger) Error(string, ...interface{})       {}
func (n nopLogger) WithRequestID(string) Logger      { return n }
func (n nopLogger) WithComponent(string) Logger      { return n }
func (n nopLogger) WithFields(...interface{}) Logger { return n }

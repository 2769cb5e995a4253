package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Level is a log severity. LevelSilent disables output.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

var levelNames = []string{"DEBUG", "INFO", "WARN", "ERROR", "SILENT"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel accepts a level name in any case, plus the aliases warning,
// off and none.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "WARNING":
		return LevelWarn, nil
	case "OFF", "NONE":
		return LevelSilent, nil
	}
	if i := slices.Index(levelNames, strings.ToUpper(s)); i >= 0 {
		return Level(i), nil
	}
	return LevelInfo, fmt.Errorf("invalid log level %q (use debug, info, warn, error, silent)", s)
}

// Format selects text or JSON lines.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format %q", s)
}

// Fields are structured key/value pairs attached to a log line.
//
// A []byte value is never written as-is: it is logged as its length, so
// key material handed to a logger by mistake does not reach the output.
type Fields map[string]any

// Logger writes leveled, structured lines. Loggers derived with With or
// Named share their parent's writer and its lock, so every connection can
// log to one stream without interleaving.
type Logger struct {
	out    *lockedWriter
	level  Level
	format Format
	fields Fields
	name   string
	now    func() time.Time
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) writeLine(b []byte) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, _ = lw.w.Write(append(b, '\n'))
}

// LoggerOption configures NewLogger.
type LoggerOption func(*Logger)

// WithOutput sets the destination. The default is stdout.
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) { l.out = &lockedWriter{w: w} }
}

// WithLevel sets the minimum level written. The default is LevelInfo.
func WithLevel(level Level) LoggerOption {
	return func(l *Logger) { l.level = level }
}

// WithFormat sets the line format.
func WithFormat(format Format) LoggerOption {
	return func(l *Logger) { l.format = format }
}

// WithFields attaches fields to every line.
func WithFields(fields Fields) LoggerOption {
	return func(l *Logger) { l.fields = fields }
}

// WithClock takes timestamps from clk.
func WithClock(clk clock.Clock) LoggerOption {
	return func(l *Logger) { l.now = clk.Now }
}

// NewLogger creates a logger.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		out:   &lockedWriter{w: os.Stdout},
		level: LevelInfo,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// With returns a logger that adds fields to every line.
func (l *Logger) With(fields Fields) *Logger {
	d := *l
	d.fields = merge(l.fields, fields)
	return &d
}

// Named returns a logger whose name is l's name and name joined by a dot.
func (l *Logger) Named(name string) *Logger {
	d := *l
	if l.name != "" {
		name = l.name + "." + name
	}
	d.name = name
	return &d
}

// Enabled reports whether lines at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level && level < LevelSilent
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra []Fields) {
	if !l.Enabled(level) {
		return
	}
	fields := merge(l.fields, extra...)
	for k, v := range fields {
		if b, ok := v.([]byte); ok {
			fields[k] = fmt.Sprintf("<%d bytes>", len(b))
		}
	}

	ts := l.now()
	if l.format == FormatJSON {
		entry := merge(fields, Fields{"time": ts.Format(time.RFC3339Nano), "level": level.String(), "msg": msg})
		if l.name != "" {
			entry["logger"] = l.name
		}
		line, err := json.Marshal(entry)
		if err != nil {
			line = fmt.Appendf(nil, `{"level":"ERROR","msg":"unencodable log line","error":%q}`, err.Error())
		}
		l.out.writeLine(line)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s ", ts.Format("15:04:05.000"), level)
	if l.name != "" {
		fmt.Fprintf(&b, "[%s] ", l.name)
	}
	b.WriteString(msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := fmt.Sprint(fields[k])
		if strings.ContainsAny(v, " \t\"=") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	l.out.writeLine([]byte(b.String()))
}

func merge(base Fields, more ...Fields) Fields {
	n := len(base)
	for _, m := range more {
		n += len(m)
	}
	out := make(Fields, n)
	for k, v := range base {
		out[k] = v
	}
	for _, m := range more {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

var (
	loggerMu     sync.RWMutex
	globalLogger = NewLogger()
)

// SetLogger replaces the logger used by observers built without one.
func SetLogger(l *Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	globalLogger = l
}

// GetLogger returns the global logger.
func GetLogger() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return globalLogger
}

// NullLogger returns a logger that writes nothing.
func NullLogger() *Logger {
	return NewLogger(WithLevel(LevelSilent), WithOutput(io.Discard))
}

// Package logging provides structured, level-gated logging for the hci
// transport layer.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a CLI-style level name to a LogLevel, defaulting to
// LevelInfo for anything unrecognized.
func ParseLevel(name string) LogLevel {
	switch name {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config holds logging configuration.
type Config struct {
	Level  LogLevel
	Format string // "text" (default) or "json"
	Output io.Writer
	// Sync is accepted but not consulted: every logger formats a
	// message outside its mutex and holds the mutex only for the write,
	// whatever this is set to.
	Sync    bool
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps stdlib log with level support and chained context fields.
type Logger struct {
	logger  *log.Logger
	level   LogLevel
	format  string
	noColor bool
	fields  []field
	mu      *sync.Mutex
}

type field struct {
	key string
	val any
}

var (
	defaultLogger *Logger
	defMu         sync.RWMutex
)

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger:  log.New(output, "", log.LstdFlags),
		level:   config.Level,
		format:  format,
		noColor: config.NoColor,
		mu:      &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	defMu.RLock()
	if defaultLogger != nil {
		defer defMu.RUnlock()
		return defaultLogger
	}
	defMu.RUnlock()

	defMu.Lock()
	defer defMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defMu.Lock()
	defer defMu.Unlock()
	defaultLogger = logger
}

// withField returns a child logger carrying an additional context field.
// The parent's fields are copied, not mutated, so sibling chains never
// observe each other's additions.
func (l *Logger) withField(key string, val any) *Logger {
	fields := make([]field, len(l.fields), len(l.fields)+1)
	copy(fields, l.fields)
	fields = append(fields, field{key, val})
	return &Logger{
		logger:  l.logger,
		level:   l.level,
		format:  l.format,
		noColor: l.noColor,
		fields:  fields,
		mu:      l.mu,
	}
}

// WithOpcode returns a child logger tagging every message with the HCI
// opcode under correlation (pending-command / watchdog logging).
func (l *Logger) WithOpcode(opcode uint16) *Logger {
	return l.withField("opcode", fmt.Sprintf("0x%04x", opcode))
}

// WithPacketType returns a child logger tagging every message with the
// inbound/outbound packet type (COMMAND/ACL/SCO/EVENT).
func (l *Logger) WithPacketType(t string) *Logger {
	return l.withField("packet_type", t)
}

// WithError returns a child logger carrying an error for the next message.
func (l *Logger) WithError(err error) *Logger {
	return l.withField("error", err)
}

func (l *Logger) render(level LogLevel, msg string, args []any) string {
	all := make([]field, 0, len(l.fields)+len(args)/2)
	all = append(all, l.fields...)
	for i := 0; i+1 < len(args); i += 2 {
		all = append(all, field{fmt.Sprintf("%v", args[i]), args[i+1]})
	}

	if l.format == "json" {
		m := map[string]any{"level": level.String(), "msg": msg}
		for _, f := range all {
			m[f.key] = fmt.Sprintf("%v", f.val)
		}
		b, err := json.Marshal(m)
		if err != nil {
			return msg
		}
		return string(b)
	}

	out := msg
	for _, f := range all {
		out += fmt.Sprintf(" %s=%v", f.key, f.val)
	}
	return out
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	rendered := l.render(level, msg, args)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.format == "json" {
		l.logger.Print(rendered)
		return
	}
	l.logger.Printf("%s %s", prefix, rendered)
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

// Printf-style logging.
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...)) }

// Printf for compatibility with the stdlib log.Logger shape.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions against the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

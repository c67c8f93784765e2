package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Logger is the printf-style contract every package logs through.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop discards everything.
func Nop() Logger { return nopLogger{} }

// IsNil reports whether logger is nil or a nil *ComponentLogger.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	cl, ok := logger.(*ComponentLogger)
	return ok && cl == nil
}

// OrNop returns logger, or Nop when it is nil.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// NewComponentLogger scopes the default logger to component.
func NewComponentLogger(component string) Logger {
	return Default().WithComponent(component)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
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

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// sink is shared by every component logger derived from the same root.
type sink struct {
	mu    sync.Mutex
	out   io.Writer
	file  *os.File
	level Level
}

// ComponentLogger writes lines of the form
// "2006-01-02 15:04:05 [LEVEL] [Component] file.go:123 - message".
type ComponentLogger struct {
	sink      *sink
	component string
}

var (
	defaultLogger     *ComponentLogger
	defaultLoggerOnce sync.Once
)

// Default returns the process-wide logger writing to stderr at info level.
func Default() *ComponentLogger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = New(os.Stderr, LevelInfo)
	})
	return defaultLogger
}

// New creates a root logger writing to out.
func New(out io.Writer, level Level) *ComponentLogger {
	if out == nil {
		out = io.Discard
	}
	return &ComponentLogger{sink: &sink{out: out, level: level}}
}

// Configure adjusts the default logger. When logFile is set every line is
// also appended to that file.
func Configure(level Level, logFile string) error {
	root := Default()
	root.sink.mu.Lock()
	defer root.sink.mu.Unlock()
	root.sink.level = level
	if strings.TrimSpace(logFile) == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if root.sink.file != nil {
		_ = root.sink.file.Close()
	}
	root.sink.file = file
	root.sink.out = io.MultiWriter(os.Stderr, file)
	return nil
}

// WithComponent returns a logger sharing the same output, tagged with component.
func (l *ComponentLogger) WithComponent(component string) *ComponentLogger {
	return &ComponentLogger{sink: l.sink, component: component}
}

// SetLevel sets the minimum log level.
func (l *ComponentLogger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// SetOutput redirects every logger sharing this sink. The TUI uses it to keep
// log lines off the alternate screen.
func (l *ComponentLogger) SetOutput(out io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if out == nil {
		out = io.Discard
	}
	if l.sink.file != nil {
		out = io.MultiWriter(out, l.sink.file)
	}
	l.sink.out = out
}

// Close closes the log file, if any.
func (l *ComponentLogger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	l.sink.out = os.Stderr
	return err
}

func (l *ComponentLogger) log(level Level, format string, args ...any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if level < l.sink.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "devconsole"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, component, file, line, message)

	_, _ = io.WriteString(l.sink.out, sanitizeLogLine(logLine))
}

// Debug logs a debug message.
func (l *ComponentLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *ComponentLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *ComponentLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *ComponentLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

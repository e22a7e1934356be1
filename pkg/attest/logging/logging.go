// Package logging provides structured file logging for attest. Per-file scan
// errors are duplicated here so they survive terminal scroll-back, which makes
// the log file the persistent error record for a catalog.
//
// Basic usage:
//
//	if err := logging.Init(logging.DefaultConfig()); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Close()
//
//	logger := logging.Get("scan")
//	logger.Info("scan started", "root", "/srv/archive")
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level string into a charmbracelet/log level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel, nil
	case "info", "":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the file log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	// MaxBytes is the size at which the log file is rotated to a single
	// ".old" sibling. Zero uses DefaultMaxBytes.
	MaxBytes int64

	// ConsoleLevel enables console output at the given level. Empty
	// disables console output.
	ConsoleLevel string
}

// DefaultMaxBytes is the default rotation threshold for the log file.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// DefaultLogPath returns the default log file location,
// $XDG_STATE_HOME/attest/attest.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "attest", "attest.log")
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		MaxBytes: DefaultMaxBytes,
	}
}

// Logger writes to the shared log file and, when configured, echoes to the
// console with a shorter timestamp format.
type Logger struct {
	file    *log.Logger
	console *log.Logger
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) { l.each(func(lg *log.Logger) { lg.Debug(msg, args...) }) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) { l.each(func(lg *log.Logger) { lg.Info(msg, args...) }) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) { l.each(func(lg *log.Logger) { lg.Warn(msg, args...) }) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) { l.each(func(lg *log.Logger) { lg.Error(msg, args...) }) }

// With returns a new logger with additional context attached.
func (l *Logger) With(args ...any) *Logger {
	next := &Logger{file: l.file.With(args...)}
	if l.console != nil {
		next.console = l.console.With(args...)
	}
	return next
}

func (l *Logger) each(fn func(*log.Logger)) {
	fn(l.file)
	if l.console != nil {
		fn(l.console)
	}
}

// state holds the global logging state.
type state struct {
	mu           sync.RWMutex
	initialized  bool
	out          *os.File
	level        log.Level
	consoleLevel log.Level
	consoleOn    bool
	loggers      map[string]*Logger
}

var globalState = &state{loggers: make(map[string]*Logger)}

// Init initializes the logging system. Before Init is called all loggers
// write to io.Discard.
func Init(cfg Config) error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	consoleOn := false
	consoleLevel := log.InfoLevel
	if cfg.ConsoleLevel != "" {
		consoleLevel, err = ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		consoleOn = true
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	out, err := openRotated(path, maxBytes)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	if globalState.out != nil {
		_ = globalState.out.Close()
	}
	globalState.out = out
	globalState.level = level
	globalState.consoleLevel = consoleLevel
	globalState.consoleOn = consoleOn
	globalState.initialized = true

	// Recreate existing loggers against the new configuration.
	for component := range globalState.loggers {
		globalState.loggers[component] = createLogger(component)
	}
	return nil
}

// openRotated opens path for appending, rotating the current file aside to a
// ".old" sibling when it exceeds maxBytes.
func openRotated(path string, maxBytes int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err == nil && info.Size() >= maxBytes {
		if err := os.Rename(path, path+".old"); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Get returns the logger for the given component, creating it on first use.
func Get(component string) *Logger {
	globalState.mu.RLock()
	if logger, ok := globalState.loggers[component]; ok {
		globalState.mu.RUnlock()
		return logger
	}
	globalState.mu.RUnlock()

	globalState.mu.Lock()
	defer globalState.mu.Unlock()
	if logger, ok := globalState.loggers[component]; ok {
		return logger
	}
	logger := createLogger(component)
	globalState.loggers[component] = logger
	return logger
}

// createLogger builds a logger for component. Must be called with
// globalState.mu held.
func createLogger(component string) *Logger {
	var out io.Writer = io.Discard
	if globalState.initialized {
		out = globalState.out
	}

	logger := &Logger{
		file: log.NewWithOptions(out, log.Options{
			Level:           globalState.level,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
	}

	if globalState.initialized && globalState.consoleOn {
		logger.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           globalState.consoleLevel,
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}
	return logger
}

// Close flushes and closes the log file.
func Close() error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	if !globalState.initialized {
		return nil
	}
	globalState.initialized = false
	globalState.loggers = make(map[string]*Logger)

	if globalState.out != nil {
		err := globalState.out.Close()
		globalState.out = nil
		return err
	}
	return nil
}

// Package logger owns the process-wide structured logger.
//
// Records are written as slog text lines to a log file in paths.LogsDir()
// (or the path given to Init). Kernel output mirrored for a run goes to a
// separate stream log so the main log stays readable.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/waldiez/jupyter-runner/paths"
)

var (
	root     *slog.Logger
	levelVar = new(slog.LevelVar)
	logFile  *os.File
	mu       sync.Mutex
	logPath  string
	initDone bool
)

// DefaultLogPath returns the default log file path for the main process
func DefaultLogPath() (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "waldiez-runner.log"), nil
}

// StreamLogPath returns the log path for raw kernel output of one run
func StreamLogPath(sessionID string) (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("stream-%s.log", sessionID)), nil
}

// SetDebug enables or disables debug level logging
func SetDebug(enabled bool) {
	if enabled {
		levelVar.Set(slog.LevelDebug)
	} else {
		levelVar.Set(slog.LevelInfo)
	}
}

// Init initializes the logger with a custom path. Must be called before logging.
// If not called, the default path will be used on first log call.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if initDone {
		return nil
	}
	if err := open(path); err != nil {
		return err
	}
	root.Info("logger initialized", "path", path)
	return nil
}

// open creates the log file and the root logger. Caller must hold mu.
func open(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	logPath = path
	logFile = f
	root = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: levelVar}))
	initDone = true
	return nil
}

// ensureInit initializes the logger with default settings if not already initialized.
// Caller must hold mu.
func ensureInit() {
	if initDone {
		return
	}

	defaultPath, err := DefaultLogPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to get default log path: %v\n", err)
		return
	}
	if err := open(defaultPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	root.Info("logger initialized", "path", defaultPath)
}

// Path returns the file the logger writes to, or "" before initialization.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// Get returns the root logger instance.
// Use this when you don't have session context.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default()
	}
	return root
}

// WithSession returns a logger with the run session ID attached.
//
// Example:
//
//	log := logger.WithSession(sessionID)
//	log.Info("execution submitted", "file", path)
//	// Output: level=INFO msg="execution submitted" sessionID=abc123 file=/flows/a.waldiez
func WithSession(sessionID string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default().With("sessionID", sessionID)
	}
	return root.With("sessionID", sessionID)
}

// WithComponent returns a logger with the component name attached.
//
// Example:
//
//	log := logger.WithComponent("jupyter")
//	log.Info("kernel started", "kernelID", id)
//	// Output: level=INFO msg="kernel started" component=jupyter kernelID=...
func WithComponent(component string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()

	if root == nil {
		return slog.Default().With("component", component)
	}
	return root.With("component", component)
}

// Close closes the log file
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	root = nil
}

// Reset resets the logger state, allowing reinitialization.
// This is primarily for testing purposes.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	initDone = false
	logPath = ""
	root = nil
	levelVar = new(slog.LevelVar)
}

// ClearLogs removes the main log and all stream logs from paths.LogsDir().
func ClearLogs() (int, error) {
	count := 0

	defaultPath, err := DefaultLogPath()
	if err != nil {
		return 0, fmt.Errorf("failed to get default log path: %w", err)
	}
	dir := filepath.Dir(defaultPath)

	if err := os.Remove(defaultPath); err == nil {
		count++
	} else if !os.IsNotExist(err) {
		return count, err
	}

	streamLogs, err := filepath.Glob(filepath.Join(dir, "stream-*.log"))
	if err != nil {
		return count, err
	}
	for _, p := range streamLogs {
		if err := os.Remove(p); err == nil {
			count++
		} else if !os.IsNotExist(err) {
			return count, err
		}
	}

	return count, nil
}

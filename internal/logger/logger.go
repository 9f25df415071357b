package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jonathanvineet/DAIO/internal/config"
)

// Logger provides leveled logging (debug/info/warning/error) to per-level
// files and stdout/stderr.
type Logger struct {
	debugLog   zerolog.Logger
	infoLog    zerolog.Logger
	warningLog zerolog.Logger
	errorLog   zerolog.Logger
	logDir     string
	mu         *sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) (*Logger, error) {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{
		logDir: config.LogDirectory,
		mu:     &sync.Mutex{},
	}
	if err := l.setupLoggers(parseLevel(config.LogLevel)); err != nil {
		return nil, err
	}
	return l, nil
}

// Discard returns a Logger that drops everything. Meant for tests.
func Discard() *Logger {
	nop := zerolog.Nop()
	return &Logger{
		debugLog:   nop,
		infoLog:    nop,
		warningLog: nop,
		errorLog:   nop,
		mu:         &sync.Mutex{},
	}
}

// setupLoggers initializes writers and per-level loggers.
func (l *Logger) setupLoggers(level zerolog.Level) error {
	infoFile, err := l.openLogFile(filepath.Join(l.logDir, "info.log"))
	if err != nil {
		return err
	}
	warningFile, err := l.openLogFile(filepath.Join(l.logDir, "warning.log"))
	if err != nil {
		return err
	}
	errorFile, err := l.openLogFile(filepath.Join(l.logDir, "error.log"))
	if err != nil {
		return err
	}

	stdout := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006/01/02 15:04:05"}
	stderr := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006/01/02 15:04:05"}

	newLevelLogger := func(w io.Writer) zerolog.Logger {
		return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
	}

	l.debugLog = newLevelLogger(stdout)
	l.infoLog = newLevelLogger(zerolog.MultiLevelWriter(stdout, infoFile))
	l.warningLog = newLevelLogger(zerolog.MultiLevelWriter(stdout, warningFile))
	l.errorLog = newLevelLogger(zerolog.MultiLevelWriter(stderr, errorFile))
	return nil
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filename, err)
	}
	return file, nil
}

// Named returns a Logger that tags every entry with the given component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		debugLog:   l.debugLog.With().Str("component", component).Logger(),
		infoLog:    l.infoLog.With().Str("component", component).Logger(),
		warningLog: l.warningLog.With().Str("component", component).Logger(),
		errorLog:   l.errorLog.With().Str("component", component).Logger(),
		logDir:     l.logDir,
		mu:         l.mu,
	}
}

// Debug writes a formatted debug-level log entry. Debug entries only go to stdout.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.debugLog.Debug().CallerSkipFrame(1).Msgf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Info().CallerSkipFrame(1).Msgf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Warn().CallerSkipFrame(1).Msgf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Error().CallerSkipFrame(1).Msgf(format, v...)
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	filePath := filepath.Join(l.logDir, filepath.Base(fileName))

	l.mu.Lock()
	err := os.Truncate(filePath, 0)
	l.mu.Unlock()
	if err != nil {
		l.Error("Error truncating log file %s: %v", fileName, err)
		return err
	}

	l.Info("Log file %s has been cleared", fileName)
	return nil
}

// Dir returns the directory holding the log files.
func (l *Logger) Dir() string {
	return l.logDir
}

func parseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

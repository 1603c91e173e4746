package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"toolproxy/internal/core"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Options controls how the application logger is built.
type Options struct {
	Debug bool
	// Format is "text" (human readable, colored on a terminal) or "json".
	Format string
	// File, when set, receives log output instead of stdout.
	File string
}

// AppLogger is the application logger implementation. It keeps the printf
// style of core.Logger and emits structured records through slog.
type AppLogger struct {
	logger     *slog.Logger
	debug      bool
	fileHandle *os.File
	mu         sync.Mutex
}

// NewAppLoggerWithConfig creates a logger writing uncolored text to output.
func NewAppLoggerWithConfig(output io.Writer, debugMode bool) *AppLogger {
	return &AppLogger{
		logger: slog.New(newHandler(output, debugMode, "text", false)),
		debug:  debugMode,
	}
}

func newHandler(output io.Writer, debugMode bool, format string, color bool) slog.Handler {
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	if format == "json" {
		return slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	}
	return tint.NewHandler(output, &tint.Options{
		Level:      level,
		TimeFormat: core.TimeFormatDateTime,
		NoColor:    !color,
	})
}

func (l *AppLogger) log(level slog.Level, format string, args ...any) {
	if l == nil {
		return
	}
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Debug logs a message at DEBUG level.
func (l *AppLogger) Debug(format string, args ...any) {
	l.log(slog.LevelDebug, format, args...)
}

// Info logs a message at INFO level.
func (l *AppLogger) Info(format string, args ...any) {
	l.log(slog.LevelInfo, format, args...)
}

// Warn logs a message at WARN level.
func (l *AppLogger) Warn(format string, args ...any) {
	l.log(slog.LevelWarn, format, args...)
}

// Error logs a message at ERROR level.
func (l *AppLogger) Error(format string, args ...any) {
	l.log(slog.LevelError, format, args...)
}

// Fatal logs a message at ERROR level and terminates the process.
func (l *AppLogger) Fatal(format string, args ...any) {
	if l == nil {
		slog.Error(fmt.Sprintf(format, args...), "fatal", true)
		os.Exit(1)
	}
	l.logger.Error(fmt.Sprintf(format, args...), "fatal", true)
	_ = l.Close()
	os.Exit(1)
}

// Slog exposes the underlying structured logger for request logging.
func (l *AppLogger) Slog() *slog.Logger {
	return l.logger
}

// With returns a logger carrying the given structured attributes.
func (l *AppLogger) With(args ...any) *AppLogger {
	return &AppLogger{logger: l.logger.With(args...), debug: l.debug}
}

// Close safely closes log file handle.
func (l *AppLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileHandle != nil {
		err := l.fileHandle.Close()
		l.fileHandle = nil
		return err
	}
	return nil
}

// containsPathTraversal checks if path contains path traversal sequences.
func containsPathTraversal(path string) bool {
	return strings.Contains(path, "..")
}

// openLogFile opens the log file sink, falling back to stdout on any problem.
// The returned warning, if any, should be logged once the logger exists.
func openLogFile(path string) (io.Writer, *os.File, string) {
	if path == "" {
		return os.Stdout, nil, ""
	}
	if len(path) > core.MaxLogFilePathLength {
		return os.Stdout, nil, "LOG_FILE path too long, falling back to stdout"
	}
	if containsPathTraversal(path) {
		return os.Stdout, nil, "LOG_FILE contains path traversal characters, falling back to stdout"
	}

	//nolint:gosec // G304: path from env var, validated by containsPathTraversal
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, core.FilePermissionReadWrite)
	if err != nil {
		return os.Stdout, nil, fmt.Sprintf("failed to open LOG_FILE %q: %v, falling back to stdout", path, err)
	}
	return file, file, ""
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// IsDebug returns whether debug logging was requested through the environment.
func IsDebug() bool {
	if v := strings.ToLower(os.Getenv("DEBUG_MODE")); v == "true" || v == "1" {
		return true
	}
	return os.Getenv("GIN_MODE") == "debug"
}

// CreateLogger creates a logger instance (for dependency injection).
func CreateLogger(opts Options) *AppLogger {
	output, fileHandle, warning := openLogFile(opts.File)
	color := fileHandle == nil && isTerminal(output)

	logger := &AppLogger{
		logger:     slog.New(newHandler(output, opts.Debug, opts.Format, color)),
		debug:      opts.Debug,
		fileHandle: fileHandle,
	}
	if warning != "" {
		logger.Warn("%s", warning)
	}
	return logger
}

// CreateLoggerFromEnv builds a logger from DEBUG_MODE, LOG_FORMAT and LOG_FILE.
func CreateLoggerFromEnv() *AppLogger {
	return CreateLogger(Options{
		Debug:  IsDebug(),
		Format: strings.ToLower(os.Getenv("LOG_FORMAT")),
		File:   os.Getenv("LOG_FILE"),
	})
}

// Elapsed formats a duration the way request timing lines print it.
func Elapsed(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
}

package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewAppLoggerWithConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithConfig(&buf, true)
	if logger == nil {
		t.Fatal("logger should not be nil")
	}
	if !logger.debug {
		t.Error("debug mode should be enabled")
	}
	if logger.fileHandle != nil {
		t.Error("external writer should not hold a file handle")
	}
}

func TestAppLogger_Debug(t *testing.T) {
	tests := []struct {
		name      string
		debugMode bool
		message   string
		expectLog bool
	}{
		{"debug mode emits", true, "debug message", true},
		{"release mode suppresses", false, "should not appear", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewAppLoggerWithConfig(&buf, tt.debugMode)
			logger.Debug("%s", tt.message)
			output := buf.String()
			if hasLog := strings.Contains(output, tt.message); hasLog != tt.expectLog {
				t.Errorf("expected log=%v, got %v", tt.expectLog, hasLog)
			}
			if tt.expectLog && !strings.Contains(output, "DBG") {
				t.Error("debug line should carry the DBG level")
			}
		})
	}
}

func TestAppLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *AppLogger)
		level string
		text  string
	}{
		{"info", func(l *AppLogger) { l.Info("listening on %s", ":3000") }, "INF", "listening on :3000"},
		{"warn", func(l *AppLogger) { l.Warn("retry %d", 2) }, "WRN", "retry 2"},
		{"error", func(l *AppLogger) { l.Error("failed: %v", "boom") }, "ERR", "failed: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewAppLoggerWithConfig(&buf, false)
			tt.log(logger)
			output := buf.String()
			if !strings.Contains(output, tt.level) {
				t.Errorf("output %q should contain level %s", output, tt.level)
			}
			if !strings.Contains(output, tt.text) {
				t.Errorf("output %q should contain %q", output, tt.text)
			}
		})
	}
}

func TestAppLogger_NilSafety(t *testing.T) {
	var logger *AppLogger
	logger.Debug("no panic")
	logger.Info("no panic")
	logger.Warn("no panic")
	logger.Error("no panic")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on nil logger returned %v", err)
	}
}

func TestAppLogger_Close(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithConfig(&buf, false)
	if err := logger.Close(); err != nil {
		t.Errorf("Close without file handle returned %v", err)
	}
}

func TestContainsPathTraversal(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"plain path", "/var/log/app.log", false},
		{"parent in middle", "/var/../etc/passwd", true},
		{"relative parent", "../secret.txt", true},
		{"current dir", "./local.log", false},
		{"windows parent", "..\\config.ini", true},
		{"empty", "", false},
		{"dotted file name", "/var/log/app.2024.log", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := containsPathTraversal(tt.path); result != tt.expected {
				t.Errorf("containsPathTraversal(%q) = %v, want %v", tt.path, result, tt.expected)
			}
		})
	}
}

func TestIsDebug(t *testing.T) {
	tests := []struct {
		name      string
		debugMode string
		ginMode   string
		expected  bool
	}{
		{"DEBUG_MODE true", "true", "release", true},
		{"gin debug", "", "debug", true},
		{"release", "false", "release", false},
		{"test", "", "test", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEBUG_MODE", tt.debugMode)
			t.Setenv("GIN_MODE", tt.ginMode)
			if result := IsDebug(); result != tt.expected {
				t.Errorf("IsDebug() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestCreateLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.log")
	logger := CreateLogger(Options{File: path})
	logger.Info("written to %s", "file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file content = %q", data)
	}
	if strings.Contains(string(data), "\x1b[") {
		t.Error("file output must not contain color escapes")
	}
}

func TestCreateLogger_JSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.json")
	logger := CreateLogger(Options{File: path, Format: "json"})
	logger.Warn("structured %d", 1)
	_ = logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"level":"WARN"`) || !strings.Contains(string(data), `"msg":"structured 1"`) {
		t.Errorf("unexpected json log line %q", data)
	}
}

func TestAppLogger_MultipleWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithConfig(&buf, true)
	logger.Debug("first")
	logger.Info("second")
	logger.Warn("third")
	logger.Error("fourth")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 lines, got %d", len(lines))
	}
}

func TestElapsed(t *testing.T) {
	if got := Elapsed(1500 * time.Microsecond); got != "1.5ms" {
		t.Errorf("Elapsed() = %q", got)
	}
}

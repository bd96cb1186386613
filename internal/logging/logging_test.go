package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"INFO", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
		hasError bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"xml", FormatText, true},
	}

	for _, test := range tests {
		format, err := ParseFormat(test.input)
		if test.hasError && err == nil {
			t.Errorf("ParseFormat(%q): expected error, got nil", test.input)
		}
		if !test.hasError && err != nil {
			t.Errorf("ParseFormat(%q): unexpected error: %v", test.input, err)
		}
		if !test.hasError && format != test.expected {
			t.Errorf("ParseFormat(%q) = %v, want %v", test.input, format, test.expected)
		}
	}
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "classpulse.log")

	logger, err := New(&Config{
		Level:     LevelDebug,
		Format:    FormatJSON,
		Output:    "file",
		FilePath:  path,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hello", "student", "s-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v, want test", entry["component"])
	}
	if entry["student"] != "s-1" {
		t.Errorf("student = %v, want s-1", entry["student"])
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	logger, err := New(&Config{
		Level:    LevelWarn,
		Format:   FormatText,
		Output:   "file",
		FilePath: path,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Debug("should not appear")
	logger.Info("also filtered")
	logger.Warn("kept")
	logger.Close()

	data, _ := os.ReadFile(path)
	out := string(data)
	if strings.Contains(out, "should not appear") || strings.Contains(out, "also filtered") {
		t.Errorf("filtered levels leaked into output: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn message missing from output: %s", out)
	}
}

func TestWithComponent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    "file",
		FilePath:  path,
		Component: "root",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sub := logger.WithComponent("submitter")
	sub.Info("queued")
	logger.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"component":"submitter"`) {
		t.Errorf("scoped component missing from output: %s", data)
	}
}

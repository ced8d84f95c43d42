package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "amankb.log" {
		t.Errorf("DefaultLogPath should end with amankb.log, got: %s", path)
	}
	if !strings.Contains(path, ".amankb") {
		t.Errorf("DefaultLogPath should live under .amankb, got: %s", path)
	}
}

func TestLogPathIn(t *testing.T) {
	got := LogPathIn("/data/kb")
	want := filepath.Join("/data/kb", "logs", "amankb.log")
	if got != want {
		t.Errorf("LogPathIn = %s, want %s", got, want)
	}
	if LogPathIn("") != DefaultLogPath() {
		t.Error("LogPathIn(\"\") should fall back to DefaultLogPath")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "warn" {
		t.Errorf("expected level 'warn', got: %s", cfg.Level)
	}
	if cfg.FilePath != "" {
		t.Errorf("default config should not log to a file, got: %s", cfg.FilePath)
	}
	if !cfg.WriteToStderr {
		t.Error("expected WriteToStderr to be true")
	}
}

func TestServeConfig_NeverWritesToStderr(t *testing.T) {
	cfg := ServeConfig(t.TempDir(), "info")

	if cfg.WriteToStderr {
		t.Error("serve mode must not write to stderr")
	}
	if cfg.FilePath == "" {
		t.Error("serve mode must log to a file")
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DebugConfig(dir)
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Info("reconcile_completed", slog.String("collection", "notes"), slog.Int("added", 3))
	cleanup()

	content, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, content)
	}
	if entry["msg"] != "reconcile_completed" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["collection"] != "notes" {
		t.Errorf("unexpected collection attr: %v", entry["collection"])
	}
}

func TestSetup_RedactsSensitiveAttributes(t *testing.T) {
	dir := t.TempDir()
	cfg := DebugConfig(dir)
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Info("provider_request", slog.String("api_key", "sk-live-123"), slog.String("model", "m"))
	cleanup()

	content, _ := os.ReadFile(cfg.FilePath)
	if strings.Contains(string(content), "sk-live-123") {
		t.Error("secret leaked into log output")
	}
	if !strings.Contains(string(content), "[REDACTED]") {
		t.Error("expected redaction marker")
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:     "warn",
		FilePath:  filepath.Join(dir, "level.log"),
		MaxSizeMB: 1,
		MaxFiles:  2,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("note_skipped")
	logger.Warn("note_failed")
	cleanup()

	content, _ := os.ReadFile(cfg.FilePath)
	if strings.Contains(string(content), "note_skipped") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(string(content), "note_failed") {
		t.Error("warn entry should be written")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := LevelFromString(tt.input); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	if _, err := FindLogFile(path); err == nil {
		t.Error("expected error for missing explicit path")
	}

	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(path)
	if err != nil || got != path {
		t.Errorf("FindLogFile = %q, %v", got, err)
	}
}

// ============================================================================
// Writer Rotation Tests
// ============================================================================

func TestRotatingWriter_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")

	// 0 MB rotates before every write
	w, err := NewRotatingWriter(logPath, 0, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	data := []byte(strings.Repeat("x", 2048))
	if _, err := w.Write(data); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("main log file should exist")
	}
	if _, err := os.Stat(logPath + ".1"); os.IsNotExist(err) {
		t.Error("rotated file .1 should exist")
	}
}

func TestRotatingWriter_MaxFilesLimit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "maxfiles.log")

	w, err := NewRotatingWriter(logPath, 0, 2)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	for i := 0; i < 6; i++ {
		_, _ = w.Write([]byte(strings.Repeat("y", 512)))
	}

	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotated file .3 should not exist beyond maxFiles")
	}
	if _, err := os.Stat(logPath + ".2"); os.IsNotExist(err) {
		t.Error("rotated file .2 should exist")
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")

	w, err := NewRotatingWriter(logPath, 10, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	w.SetSyncEach(false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = fmt.Fprintf(w, "{\"worker\":%d,\"iter\":%d}\n", id, j)
			}
		}(i)
	}
	wg.Wait()
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file should exist: %v", err)
	}
	if lines := strings.Count(string(content), "\n"); lines != 400 {
		t.Errorf("expected 400 lines, got %d", lines)
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vksyncd.log")
	var console bytes.Buffer

	logger, err := New(Options{Path: path, Session: "main", Console: &console})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("roster synced")
	logger.Debug("hidden at info level")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("log lines = %d, want 1: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "roster synced" || entry["session"] != "main" || entry["ts"] == nil {
		t.Errorf("entry = %v", entry)
	}
	if !strings.Contains(console.String(), "roster synced") {
		t.Errorf("console output = %q", console.String())
	}
}

func TestNewDebugLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vksync.log")
	logger, err := New(Options{Path: path, Debug: true})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("call")
	_ = logger.Sync()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"msg":"call"`) {
		t.Errorf("debug entry missing: %s", data)
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/caffeineduck/runlink/internal/config"
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	l := build(&buf, "json", zerolog.InfoLevel)

	l.Debug().Msg("hidden")
	l.Info().Str("execution_id", "abc").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["message"] != "visible" || entry["execution_id"] != "abc" || entry["level"] != "info" {
		t.Errorf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestBuildConsole(t *testing.T) {
	var buf bytes.Buffer
	l := build(&buf, "console", zerolog.DebugLevel)
	l.Debug().Msg("hello console")

	if !strings.Contains(buf.String(), "hello console") {
		t.Errorf("output = %q", buf.String())
	}
	if strings.HasPrefix(buf.String(), "{") {
		t.Error("console format wrote json")
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "runlink.log")
	l, closer, err := New(config.LogConfig{Level: "debug", Format: "json", Output: "file", File: path})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	l.Info().Msg("to file")
	if err := closer(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
}

func TestNewErrors(t *testing.T) {
	tests := []config.LogConfig{
		{Level: "loud", Output: "stderr"},
		{Level: "info", Output: "printer"},
	}
	for _, cfg := range tests {
		if _, _, err := New(cfg); err == nil {
			t.Errorf("New(%+v) should fail", cfg)
		}
	}
}

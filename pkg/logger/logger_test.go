package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	cfg := LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
	log := New(cfg)
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
}

func TestNewDefault_TagsEntriesWithComponentName(t *testing.T) {
	log := NewDefault("orders")
	hook := test.NewLocal(log.Logger)

	log.Info("ready")

	if len(hook.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(hook.Entries))
	}
	if got := hook.Entries[0].Data["component"]; got != "orders" {
		t.Fatalf("component = %v, want %q", got, "orders")
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	originalWD, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(originalWD) })

	temp := t.TempDir()
	if err := os.Chdir(temp); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	log := New(LoggingConfig{Level: "info", Format: "text", Output: "file", FilePrefix: "test"})
	log.Info("hello")

	path := filepath.Join("logs", "test.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log file to contain data")
	}
}

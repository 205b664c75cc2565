package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "app.log")
	l, err := New("info", "json", p)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Info("hello")
	l.Debug("hidden")
	_ = l.Sync()

	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"message":"hello"`) {
		t.Fatalf("info line missing: %s", b)
	}
	if strings.Contains(string(b), "hidden") {
		t.Fatalf("debug line should be filtered: %s", b)
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "console", "stdout"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

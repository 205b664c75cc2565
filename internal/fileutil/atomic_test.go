package fileutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONAtomic_ReplacesWholeFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "state.json")

	if err := WriteJSONAtomic(p, map[string]int{"a": 1}, false); err != nil {
		t.Fatalf("write1: %v", err)
	}
	if err := WriteJSONAtomic(p, map[string]int{"b": 2}, true); err != nil {
		t.Fatalf("write2: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "{\n  \"b\": 2\n}\n"
	if string(b) != want {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestWriteAtomic_FailureKeepsPreviousContent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "ckpt.json")
	if err := WriteFileAtomic(p, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err := WriteAtomic(p, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("half-writ"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	b, _ := os.ReadFile(p)
	if string(b) != "old" {
		t.Fatalf("previous content lost: %q", string(b))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if Exists(filepath.Join(dir, "missing")) {
		t.Fatalf("missing file reported as existing")
	}
	if !Exists(dir) {
		t.Fatalf("dir not reported as existing")
	}
}

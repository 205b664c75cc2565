package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTracker_MissingFileIsZero(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "state", "p.json"), nil)
	if got := tr.Load(); got != 0 {
		t.Fatalf("want 0, got %d", got)
	}
}

func TestTracker_SaveLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state", "p.json")
	tr := NewTracker(p, nil)
	if err := tr.Save(120); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := NewTracker(p, nil).Load(); got != 120 {
		t.Fatalf("want 120, got %d", got)
	}
	if err := tr.Save(-1); err == nil {
		t.Fatalf("negative cursor accepted")
	}
}

func TestTracker_CorruptAndLegacy(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    int
	}{
		{"garbage", "{not json", 0},
		{"array", "[1,2]", 0},
		{"null", "null", 0},
		{"string cursor", `{"last_row_trained":"12"}`, 0},
		{"negative", `{"last_row_trained":-4}`, 0},
		{"fraction", `{"last_row_trained":1.5}`, 0},
		{"no key", `{"foo":1}`, 0},
		{"legacy key", `{"last_processed_count":37}`, 37},
		{"current wins", `{"last_row_trained":5,"last_processed_count":37}`, 5},
		{"zero current falls back to legacy", `{"last_row_trained":0,"last_processed_count":37}`, 37},
		{"null current falls back to legacy", `{"last_row_trained":null,"last_processed_count":9}`, 9},
		{"both zero", `{"last_row_trained":0,"last_processed_count":0}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "p.json")
			if err := os.WriteFile(p, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("seed: %v", err)
			}
			if got := NewTracker(p, nil).Load(); got != tc.want {
				t.Fatalf("want %d, got %d", tc.want, got)
			}
		})
	}
}

func TestSyncTracker(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sync.json")
	s := NewSyncTracker(p, nil)
	if s.Load() != 0 {
		t.Fatalf("fresh sync cursor should be 0")
	}
	if err := s.Save(1718000000123); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := NewSyncTracker(p, nil).Load(); got != 1718000000123 {
		t.Fatalf("got %d", got)
	}
}

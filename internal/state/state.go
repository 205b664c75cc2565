package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"

	"go.uber.org/zap"

	"jobmail/internal/fileutil"
)

// Progress is the persisted training cursor.
type Progress struct {
	LastRowTrained int `json:"last_row_trained"`
}

// Tracker persists the training cursor as a single JSON file.
// An unreadable file loads as cursor 0.
type Tracker struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewTracker(path string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{path: path, logger: logger}
}

// Load returns the persisted cursor, or 0 if none is usable.
func (t *Tracker) Load() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, err := readObject(t.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			t.logger.Warn("training state unreadable, starting from row 0",
				zap.String("path", t.path), zap.Error(err))
		}
		return 0
	}
	// A zero current cursor falls through to the legacy key.
	found := false
	for _, key := range []string{"last_row_trained", "last_processed_count"} {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		found = true
		n, ok := asCursor(v)
		if !ok {
			t.logger.Warn("training state has invalid cursor, starting from row 0",
				zap.String("path", t.path), zap.String("key", key), zap.Any("value", v))
			return 0
		}
		if n > 0 {
			return n
		}
	}
	if !found {
		t.logger.Warn("training state has no cursor, starting from row 0", zap.String("path", t.path))
	}
	return 0
}

// Save replaces the persisted cursor atomically.
func (t *Tracker) Save(lastRowTrained int) error {
	if lastRowTrained < 0 {
		return fmt.Errorf("cursor must be >= 0, got %d", lastRowTrained)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := fileutil.WriteJSONAtomic(t.path, Progress{LastRowTrained: lastRowTrained}, true); err != nil {
		return fmt.Errorf("save training state: %w", err)
	}
	return nil
}

// SyncCursor is the persisted mailbox sync position.
type SyncCursor struct {
	LastSyncTS int64 `json:"last_sync_ts"`
}

// SyncTracker persists the newest mailbox timestamp (ms) already collected.
type SyncTracker struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewSyncTracker(path string, logger *zap.Logger) *SyncTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncTracker{path: path, logger: logger}
}

func (s *SyncTracker) Load() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := readObject(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("sync state unreadable, syncing full history",
				zap.String("path", s.path), zap.Error(err))
		}
		return 0
	}
	n, ok := asCursor(raw["last_sync_ts"])
	if !ok {
		return 0
	}
	return int64(n)
}

func (s *SyncTracker) Save(ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fileutil.WriteJSONAtomic(s.path, SyncCursor{LastSyncTS: ts}, true); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

func readObject(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode: not an object")
	}
	return raw, nil
}

func asCursor(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f < 0 || f != math.Trunc(f) || f > 1<<53 {
		return 0, false
	}
	return int(f), true
}

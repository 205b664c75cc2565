// Package records is the append-only message store backing the dataset.
package records

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"jobmail/internal/dataset"
)

// Store keeps every collected message in arrival order. Rows are never
// updated or deleted, so dataset positions stay stable across runs.
type Store struct {
	db         *sql.DB
	index      map[string]int
	minTextLen int
	logger     *zap.Logger
}

// Open creates or opens the database at path. labels fixes the class
// order used when the store is read as a training set; texts of minTextLen
// characters or fewer are left out of it.
func Open(path string, labels []string, minTextLen int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	s := &Store{db: db, index: index, minTextLen: minTextLen, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("record store ready", zap.String("db_path", path))
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		received_at INTEGER NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL DEFAULT '',
		raw_text TEXT NOT NULL DEFAULT '',
		cleaned_text TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_records_label ON records(label);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Append inserts records in the given order inside one transaction and
// returns how many were new. Known message ids are ignored.
func (s *Store) Append(ctx context.Context, recs []dataset.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO records (message_id, received_at, sender, subject, label, raw_text, cleaned_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	added := 0
	for _, r := range recs {
		res, err := stmt.ExecContext(ctx, r.MessageID, r.ReceivedAt.UnixMilli(), r.Sender, r.Subject, r.Label, r.RawText, r.CleanedText)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", r.MessageID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// All returns every stored record ordered by seq.
func (s *Store) All(ctx context.Context) ([]dataset.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, message_id, received_at, sender, subject, label, raw_text, cleaned_text
		FROM records
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []dataset.Record
	for rows.Next() {
		var r dataset.Record
		var ms int64
		if err := rows.Scan(&r.Seq, &r.MessageID, &ms, &r.Sender, &r.Subject, &r.Label, &r.RawText, &r.CleanedText); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.ReceivedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Labeled returns the training set: labelled records with a known class
// and enough text, in store order.
func (s *Store) Labeled(ctx context.Context) (dataset.Labeled, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	keep := all[:0]
	for _, r := range all {
		if len(r.CleanedText) > s.minTextLen {
			keep = append(keep, r)
		}
	}
	data, skipped := dataset.FromRecords(keep, s.index)
	if skipped > 0 {
		s.logger.Debug("records without a known label left out of the dataset", zap.Int("skipped", skipped))
	}
	return data, nil
}

// Count is the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// CountByLabel reports stored records per label.
func (s *Store) CountByLabel(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM records GROUP BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[label] = n
	}
	return out, rows.Err()
}

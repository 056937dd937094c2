// Package sqlite persists the history snapshot store to an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cveteval/internal/infra/persistence/memory"
	"cveteval/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to a single SQLite table as JSON blobs,
// one row per (history, bucket). It snapshots the full state after every
// successful write.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed store.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "cveteval.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS history_state (
		history_id INTEGER NOT NULL,
		bucket TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (history_id, bucket)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT history_id, bucket, payload FROM history_state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var buckets []memory.Bucket
	for rows.Next() {
		var b memory.Bucket
		if err := rows.Scan(&b.HistoryID, &b.Name, &b.Payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(buckets) == 0 {
		return nil
	}
	snapshot, err := memory.DecodeBuckets(buckets)
	if err != nil {
		return err
	}
	s.ImportState(snapshot)
	return nil
}

// write applies fn to the memory store and snapshots the result. The memory
// store is rolled back when the snapshot is not committed.
func (s *Store) write(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	if err := fn(); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(before)
		return err
	}
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	buckets, err := memory.EncodeBuckets(s.ExportState())
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, b := range buckets {
		if _, err = tx.ExecContext(ctx, `INSERT INTO history_state(history_id,bucket,payload) VALUES(?,?,?) ON CONFLICT(history_id,bucket) DO UPDATE SET payload=excluded.payload`, b.HistoryID, b.Name, b.Payload); err != nil {
			retErr = fmt.Errorf("upsert %d/%s: %w", b.HistoryID, b.Name, err)
			return retErr
		}
	}
	return tx.Commit()
}

// ImportHistory stores the history in memory, then snapshots to SQLite.
func (s *Store) ImportHistory(ctx context.Context, history domain.History, data domain.Dataset, userData domain.UserData) (domain.History, error) {
	var created domain.History
	err := s.write(ctx, func() error {
		var err error
		created, err = s.Store.ImportHistory(ctx, history, data, userData)
		return err
	})
	if err != nil {
		return domain.History{}, err
	}
	return created, nil
}

// AppendUserData appends migrated records, then snapshots to SQLite.
func (s *Store) AppendUserData(ctx context.Context, historyID int64, appraisals []domain.AppraisalRecord, finals []domain.FinalEvaluation) (domain.UserData, error) {
	var data domain.UserData
	err := s.write(ctx, func() error {
		var err error
		data, err = s.Store.AppendUserData(ctx, historyID, appraisals, finals)
		return err
	})
	if err != nil {
		return domain.UserData{}, err
	}
	return data, nil
}

// PutUsers upserts users, then snapshots to SQLite.
func (s *Store) PutUsers(ctx context.Context, users []domain.User) error {
	return s.write(ctx, func() error { return s.Store.PutUsers(ctx, users) })
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

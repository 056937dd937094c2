// Package postgres provides a Postgres-backed history store that mirrors the
// in-memory semantics and snapshots each history as JSONB buckets.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"cveteval/internal/infra/persistence/memory"
	"cveteval/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/cveteval?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for reads.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the snapshot table exists and hydrates the in-memory store from it.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// ImportHistory stores the history, then snapshots to Postgres.
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

// AppendUserData appends migrated records, then snapshots to Postgres.
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

// PutUsers upserts users, then snapshots to Postgres.
func (s *Store) PutUsers(ctx context.Context, users []domain.User) error {
	return s.write(ctx, func() error { return s.Store.PutUsers(ctx, users) })
}

// write applies fn to the memory store and snapshots the result, restoring
// the previous memory state when the snapshot is not committed.
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

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS history_state (
		history_id BIGINT NOT NULL,
		bucket TEXT NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (history_id, bucket)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT history_id, bucket, payload FROM history_state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var buckets []memory.Bucket
	for rows.Next() {
		var b memory.Bucket
		if err := rows.Scan(&b.HistoryID, &b.Name, &b.Payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return memory.DecodeBuckets(buckets)
}

func (s *Store) persist(ctx context.Context) error {
	buckets, err := memory.EncodeBuckets(s.ExportState())
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, b := range buckets {
		if _, err := tx.ExecContext(ctx, `INSERT INTO history_state(history_id,bucket,payload) VALUES($1,$2,$3) ON CONFLICT(history_id,bucket) DO UPDATE SET payload=EXCLUDED.payload`, b.HistoryID, b.Name, b.Payload); err != nil {
			return fmt.Errorf("upsert %d/%s: %w", b.HistoryID, b.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

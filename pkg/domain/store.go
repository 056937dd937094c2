package domain

import (
	"context"
	"fmt"
)

// SnapshotReader exposes read access to history scoped collections. Every call
// names the history explicitly; implementations return deep copies.
type SnapshotReader interface {
	Histories(ctx context.Context) ([]History, error)
	History(ctx context.Context, id int64) (History, error)
	Dataset(ctx context.Context, historyID int64) (Dataset, error)
	UserData(ctx context.Context, historyID int64) (UserData, error)
	Users(ctx context.Context) ([]User, error)
}

// HistoryWriter is the persistence collaborator: it accepts imported histories
// and migrated user data. The reconciliation engine itself never writes.
type HistoryWriter interface {
	// ImportHistory creates a history with its curriculum and user data. A zero
	// history id is assigned by the store.
	ImportHistory(ctx context.Context, history History, data Dataset, userData UserData) (History, error)
	// AppendUserData adds migrated records to an existing history, assigning ids.
	AppendUserData(ctx context.Context, historyID int64, appraisals []AppraisalRecord, finals []FinalEvaluation) (UserData, error)
	// PutUsers inserts or replaces host users.
	PutUsers(ctx context.Context, users []User) error
}

// PersistentStore combines read and write access.
type PersistentStore interface {
	SnapshotReader
	HistoryWriter
}

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityKind
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ErrConflict is returned when a write would overwrite an existing record.
type ErrConflict struct {
	Entity EntityKind
	ID     int64
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("%s %d already exists", e.Entity, e.ID)
}

// ErrInvalidID is returned when an imported record has a missing (zero or
// negative) or repeated history-local id.
type ErrInvalidID struct {
	Entity EntityKind
	ID     int64
}

func (e ErrInvalidID) Error() string {
	if e.ID <= 0 {
		return fmt.Sprintf("%s id %d is not positive", e.Entity, e.ID)
	}
	return fmt.Sprintf("%s id %d is used more than once", e.Entity, e.ID)
}

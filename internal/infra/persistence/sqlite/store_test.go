package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"cveteval/pkg/domain"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	data := domain.Dataset{
		Grids:     []domain.EvaluationGrid{{Base: domain.Base{ID: 1}, IDNumber: "evalgrid"}},
		Criteria:  []domain.Criterion{{Base: domain.Base{ID: 1}, IDNumber: "criterion1", EvalGridID: 1}},
		Plannings: []domain.Planning{{Base: domain.Base{ID: 1}, GroupID: 1, SituationID: 1, StartTime: 1700000000, EndTime: 1700086400}},
	}
	h, err := store.ImportHistory(ctx, domain.History{IDNumber: "history1"}, data, domain.UserData{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := store.PutUsers(ctx, []domain.User{{ID: 1, Username: "student1"}}); err != nil {
		t.Fatalf("put users: %v", err)
	}
	if _, err := store.AppendUserData(ctx, h.ID, []domain.AppraisalRecord{{Appraisal: domain.Appraisal{EvalPlanID: 1}}}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	histories, _ := reloaded.Histories(ctx)
	if len(histories) != 1 || histories[0].IDNumber != "history1" {
		t.Fatalf("unexpected histories %+v", histories)
	}
	ds, err := reloaded.Dataset(ctx, h.ID)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if len(ds.Criteria) != 1 || ds.Plannings[0].StartTime != 1700000000 {
		t.Fatalf("unexpected dataset %+v", ds)
	}
	ud, _ := reloaded.UserData(ctx, h.ID)
	if len(ud.Appraisals) != 1 {
		t.Fatalf("expected persisted appraisal, got %d", len(ud.Appraisals))
	}
	users, _ := reloaded.Users(ctx)
	if len(users) != 1 || users[0].Identity() != "student1" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestSQLiteStoreCreatesStateTable(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var name string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", "history_state").Scan(&name); err != nil {
		t.Fatalf("lookup state table: %v", err)
	}
	if store.Path() == "" {
		t.Fatalf("expected path")
	}
}

func TestSQLiteStoreConflictDoesNotPersist(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if _, err := store.ImportHistory(ctx, domain.History{ID: 5}, domain.Dataset{}, domain.UserData{}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := store.ImportHistory(ctx, domain.History{ID: 5}, domain.Dataset{}, domain.UserData{}); err == nil {
		t.Fatalf("expected conflict")
	}
}

func TestSQLiteStoreRollsBackMemoryOnPersistError(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	h, err := store.ImportHistory(ctx, domain.History{IDNumber: "history1"}, domain.Dataset{}, domain.UserData{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	records := []domain.AppraisalRecord{{Appraisal: domain.Appraisal{EvalPlanID: 1}}}
	for range 2 {
		if _, err := store.AppendUserData(ctx, h.ID, records, nil); err == nil {
			t.Fatalf("expected append to fail on a closed database")
		}
	}
	if ud, _ := store.UserData(ctx, h.ID); len(ud.Appraisals) != 0 {
		t.Fatalf("failed appends left %d appraisals in memory", len(ud.Appraisals))
	}
	if _, err := store.ImportHistory(ctx, domain.History{IDNumber: "history2"}, domain.Dataset{}, domain.UserData{}); err == nil {
		t.Fatalf("expected import to fail on a closed database")
	}
	if err := store.PutUsers(ctx, []domain.User{{ID: 1, Username: "student1"}}); err == nil {
		t.Fatalf("expected put users to fail on a closed database")
	}
	histories, _ := store.Histories(ctx)
	users, _ := store.Users(ctx)
	if len(histories) != 1 || len(users) != 0 {
		t.Fatalf("failed writes leaked into memory: histories=%+v users=%+v", histories, users)
	}
}

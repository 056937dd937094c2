package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"cveteval/internal/infra/persistence/postgres/testutil"
	"cveteval/pkg/domain"
)

func openStub(t *testing.T) (*testutil.StubConn, func()) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	return conn, restore
}

func TestNewStoreCreatesStateTable(t *testing.T) {
	conn, restore := openStub(t)
	defer restore()

	if _, err := NewStore(""); err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS history_state") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected history_state DDL, got execs: %v", conn.Execs)
	}
}

func TestImportHistoryPersistsBucketsAndReloads(t *testing.T) {
	conn, restore := openStub(t)
	defer restore()

	store, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	data := domain.Dataset{
		Grids:      []domain.EvaluationGrid{{Base: domain.Base{ID: 1}, IDNumber: "evalgrid"}},
		Situations: []domain.Situation{{Base: domain.Base{ID: 1}, IDNumber: "SIT1", EvalGridID: 1}},
	}
	h, err := store.ImportHistory(ctx, domain.History{IDNumber: "history1"}, data, domain.UserData{})
	if err != nil {
		t.Fatalf("ImportHistory: %v", err)
	}
	if err := store.PutUsers(ctx, []domain.User{{ID: 7, Username: "assessor1"}}); err != nil {
		t.Fatalf("PutUsers: %v", err)
	}
	// users plus one row per history bucket, updated in place on the second write
	if got := len(conn.Rows); got != 12 {
		t.Fatalf("expected 12 state rows, got %d", got)
	}

	reloaded, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	ds, err := reloaded.Dataset(ctx, h.ID)
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	if len(ds.Situations) != 1 || ds.Situations[0].IDNumber != "SIT1" || ds.Situations[0].HistoryID != h.ID {
		t.Fatalf("unexpected reloaded dataset %+v", ds)
	}
	users, _ := reloaded.Users(ctx)
	if len(users) != 1 || users[0].ID != 7 {
		t.Fatalf("unexpected reloaded users %+v", users)
	}
}

func TestAppendUserDataPersists(t *testing.T) {
	conn, restore := openStub(t)
	defer restore()

	store, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	h, err := store.ImportHistory(ctx, domain.History{ID: 3}, domain.Dataset{}, domain.UserData{})
	if err != nil {
		t.Fatalf("ImportHistory: %v", err)
	}
	records := []domain.AppraisalRecord{{
		Appraisal: domain.Appraisal{StudentID: 1, AppraiserID: 2, EvalPlanID: 1},
		Criteria:  []domain.AppraisalCriterion{{CriterionID: 1, Grade: 2}},
	}}
	if _, err := store.AppendUserData(ctx, h.ID, records, nil); err != nil {
		t.Fatalf("AppendUserData: %v", err)
	}
	row, ok := conn.Row(3, "appraisal_criteria")
	if !ok || !strings.Contains(string(row.Payload), `"appraisalid":1`) {
		t.Fatalf("expected appraisal criteria bucket with linked grade, got %+v", row)
	}
}

func TestPersistErrorsSurface(t *testing.T) {
	conn, restore := openStub(t)
	defer restore()

	store, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailBegin = true
	if _, err := store.ImportHistory(context.Background(), domain.History{}, domain.Dataset{}, domain.UserData{}); err == nil || !strings.Contains(err.Error(), "begin tx") {
		t.Fatalf("expected begin error, got %v", err)
	}
	if histories, _ := store.Histories(context.Background()); len(histories) != 0 {
		t.Fatalf("failed import left histories in memory: %+v", histories)
	}
	conn.FailBegin = false
	conn.FailCommit = true
	if err := store.PutUsers(context.Background(), []domain.User{{ID: 1}}); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	if _, ok := conn.Row(0, "users"); ok {
		t.Fatalf("users bucket written despite failed commit")
	}
	if users, _ := store.Users(context.Background()); len(users) != 0 {
		t.Fatalf("failed commit left users in memory: %+v", users)
	}
	conn.FailCommit = false
	conn.FailUpsert = true
	if err := store.PutUsers(context.Background(), []domain.User{{ID: 2}}); err == nil || !strings.Contains(err.Error(), "upsert") {
		t.Fatalf("expected upsert error, got %v", err)
	}
}

func TestFailedAppendCanBeRetried(t *testing.T) {
	conn, restore := openStub(t)
	defer restore()

	store, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	if _, err := store.ImportHistory(ctx, domain.History{ID: 4}, domain.Dataset{}, domain.UserData{}); err != nil {
		t.Fatalf("ImportHistory: %v", err)
	}
	records := []domain.AppraisalRecord{{Appraisal: domain.Appraisal{StudentID: 1, EvalPlanID: 1}}}
	conn.FailUpsert = true
	for range 2 {
		if _, err := store.AppendUserData(ctx, 4, records, nil); err == nil {
			t.Fatalf("expected upsert error")
		}
	}
	if ud, _ := store.UserData(ctx, 4); len(ud.Appraisals) != 0 {
		t.Fatalf("failed appends kept %d appraisals in memory", len(ud.Appraisals))
	}
	conn.FailUpsert = false
	ud, err := store.AppendUserData(ctx, 4, records, nil)
	if err != nil {
		t.Fatalf("AppendUserData: %v", err)
	}
	if len(ud.Appraisals) != 1 || ud.Appraisals[0].ID != 1 {
		t.Fatalf("expected a single appraisal with id 1, got %+v", ud.Appraisals)
	}
	row, ok := conn.Row(4, "appraisals")
	if !ok || strings.Count(string(row.Payload), `"evalplanid"`) != 1 {
		t.Fatalf("expected one persisted appraisal, got %+v", row)
	}
}

func TestNewStoreLoadError(t *testing.T) {
	conn, restore := openStub(t)
	defer restore()
	conn.RowsErr = fmt.Errorf("rows fail")
	conn.Rows = []testutil.StateRow{{HistoryID: 1, Bucket: "history", Payload: []byte(`{"id":1}`)}}
	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), "iterate state") {
		t.Fatalf("expected iterate error, got %v", err)
	}
}

func TestNewStorePingError(t *testing.T) {
	conn, restore := openStub(t)
	defer restore()
	conn.FailPing = true
	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestNewStoreOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return nil, fmt.Errorf("open fail")
	})
	defer restore()
	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), "open fail") {
		t.Fatalf("expected open error, got %v", err)
	}
}

package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"cveteval/internal/blob"
	"cveteval/internal/match"
	"cveteval/internal/migration"
	"cveteval/pkg/domain"
	"cveteval/testutil"
)

func TestImportHistoryStoresBundle(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	svc := NewInMemoryService(WithAuditRecorder(audit))
	h, data, userData := testutil.OldHistory()
	created, err := svc.ImportHistory(ctx, HistoryBundle{History: h, Users: testutil.Users(), Dataset: data, UserData: userData})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if created.ID == 0 || created.CreatedAt.IsZero() {
		t.Fatalf("history not created: %+v", created)
	}
	users, err := svc.Store().Users(ctx)
	if err != nil || len(users) != len(testutil.Users()) {
		t.Fatalf("users not stored: %v %+v", err, users)
	}
	stored, err := svc.Store().UserData(ctx, created.ID)
	if err != nil || len(stored.Appraisals) != len(userData.Appraisals) {
		t.Fatalf("user data not stored: %v %+v", err, stored)
	}
	if !audit.has("import_history", AuditStatusSuccess, func(e AuditEntry) bool { return e.EntityID != "" && e.Entity == "history" }) {
		t.Fatalf("expected import audit entry, got %+v", audit.entries)
	}
	histories, err := svc.Histories(ctx)
	if err != nil || len(histories) != 1 || histories[0].ID != created.ID {
		t.Fatalf("unexpected histories %v %+v", err, histories)
	}
}

func TestImportHistoryRejectsCriterionCycle(t *testing.T) {
	audit := &captureAuditRecorder{}
	svc := NewInMemoryService(WithAuditRecorder(audit))
	bundle := HistoryBundle{Dataset: domain.Dataset{Criteria: []domain.Criterion{
		{Base: domain.Base{ID: 1}, IDNumber: "a", ParentID: 2},
		{Base: domain.Base{ID: 2}, IDNumber: "b", ParentID: 1},
	}}}
	if _, err := svc.ImportHistory(context.Background(), bundle); !errors.Is(err, match.ErrCriterionCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if !audit.has("import_history", AuditStatusError, nil) {
		t.Fatalf("expected error audit entry")
	}
	histories, _ := svc.Histories(context.Background())
	if len(histories) != 0 {
		t.Fatalf("rejected bundle was stored: %+v", histories)
	}
}

func TestImportHistoryRejectsInvalidIDs(t *testing.T) {
	cases := map[string]struct {
		mutate func(*HistoryBundle)
		want   domain.ErrInvalidID
	}{
		"zero group ids": {
			mutate: func(b *HistoryBundle) {
				for i := range b.Dataset.Groups {
					b.Dataset.Groups[i].ID = 0
				}
			},
			want: domain.ErrInvalidID{Entity: domain.KindGroup, ID: 0},
		},
		"duplicate planning id": {
			mutate: func(b *HistoryBundle) { b.Dataset.Plannings[2].ID = b.Dataset.Plannings[0].ID },
			want:   domain.ErrInvalidID{Entity: domain.KindPlanning, ID: 1},
		},
		"duplicate appraisal id": {
			mutate: func(b *HistoryBundle) { b.UserData.Appraisals[1].ID = 1 },
			want:   domain.ErrInvalidID{Entity: domain.KindAppraisal, ID: 1},
		},
		"zero user id": {
			mutate: func(b *HistoryBundle) { b.Users[0].ID = 0 },
			want:   domain.ErrInvalidID{Entity: domain.KindUser, ID: 0},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := NewInMemoryService()
			h, data, userData := testutil.OldHistory()
			bundle := HistoryBundle{History: h, Users: testutil.Users(), Dataset: data, UserData: userData}
			tc.mutate(&bundle)
			_, err := svc.ImportHistory(context.Background(), bundle)
			var invalid domain.ErrInvalidID
			if !errors.As(err, &invalid) || invalid != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			histories, _ := svc.Histories(context.Background())
			users, _ := svc.Store().Users(context.Background())
			if len(histories) != 0 || len(users) != 0 {
				t.Fatalf("rejected bundle was stored: %+v %+v", histories, users)
			}
		})
	}
}

func TestMatchReportsSummary(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	svc, oldID, newID := seededService(t, WithMetricsRecorder(metrics))
	matcher, err := svc.Match(context.Background(), oldID, newID)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(matcher.OrphanedEntities()) != 1 {
		t.Fatalf("expected one orphan, got %+v", matcher.OrphanedEntities())
	}
	if !metrics.has("match", true) {
		t.Fatalf("expected match metric")
	}
	if _, err := svc.Match(context.Background(), oldID, oldID); !errors.Is(err, match.ErrSameHistory) {
		t.Fatalf("expected same history error, got %v", err)
	}
	if !metrics.has("match", false) {
		t.Fatalf("expected failed match metric")
	}
}

func TestPlanConvertsFixtureUserData(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	logger := &captureLogger{}
	svc, oldID, newID := seededService(t, WithClock(stubClock{t: fixed}), WithLogger(logger))
	plan, err := svc.Plan(context.Background(), oldID, newID, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := uuid.Parse(plan.RunID); err != nil {
		t.Fatalf("run id is not a uuid: %q", plan.RunID)
	}
	if !plan.CreatedAt.Equal(fixed) || plan.OldHistoryID != oldID || plan.NewHistoryID != newID {
		t.Fatalf("unexpected plan header %+v", plan)
	}
	if len(plan.Contexts) != len(migration.AllContexts) {
		t.Fatalf("expected all contexts by default, got %v", plan.Contexts)
	}
	if len(plan.Appraisals.Appraisals) != 2 || len(plan.FinalEvaluations.Evaluations) != 1 {
		t.Fatalf("unexpected conversions %+v %+v", plan.Appraisals, plan.FinalEvaluations)
	}
	if plan.Excluded() != 1 || len(plan.Gaps()) != 1 || plan.Gaps()[0].Reason() != "planning orphaned" {
		t.Fatalf("expected the orphaned final evaluation gap, got %+v", plan.Gaps())
	}
	if len(plan.Summary) != len(domain.CurriculumKinds) || len(plan.Orphaned) != 1 {
		t.Fatalf("plan lost match output: %+v", plan.Summary)
	}
	if !logger.has("w:user data left behind") || !logger.has("i:migration planned") {
		t.Fatalf("expected plan logs, got %v", logger.calls)
	}
	stored, _ := svc.Store().UserData(context.Background(), newID)
	if len(stored.Appraisals) != 0 {
		t.Fatalf("plan must not write, found %+v", stored.Appraisals)
	}
}

func TestPlanAppliesAssignments(t *testing.T) {
	svc, oldID, newID := seededService(t)
	plan, err := svc.Plan(context.Background(), oldID, newID, migration.AllContexts,
		match.Assignment{Kind: domain.KindPlanning, OldID: 3, NewID: 42},
	)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Excluded() != 0 || len(plan.FinalEvaluations.Evaluations) != 2 {
		t.Fatalf("assigned planning should carry the final evaluation: %+v", plan.FinalEvaluations)
	}
	if got := plan.FinalEvaluations.Evaluations[1].Evaluation.EvalPlanID; got != 42 {
		t.Fatalf("expected planning 42, got %d", got)
	}
	if len(plan.Assignments) != 1 || plan.Assignments[0].Class != match.ClassOrphaned {
		t.Fatalf("unexpected assignments %+v", plan.Assignments)
	}

	_, err = svc.Plan(context.Background(), oldID, newID, migration.AllContexts,
		match.Assignment{Kind: domain.KindPlanning, OldID: 1, NewID: 42},
	)
	if !errors.Is(err, match.ErrInvalidAssignment) {
		t.Fatalf("expected invalid assignment for a matched entity, got %v", err)
	}
}

func TestPlanHonoursContexts(t *testing.T) {
	svc, oldID, newID := seededService(t)
	plan, err := svc.Plan(context.Background(), oldID, newID, []migration.Context{migration.ContextUnmatched})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Appraisals.Appraisals) != 0 || plan.Appraisals.Excluded() != 2 {
		t.Fatalf("matched plannings are not selected, got %+v", plan.Appraisals)
	}
	for _, gap := range plan.Appraisals.Gaps {
		if gap.Status != migration.StatusNotSelected {
			t.Fatalf("unexpected gap status %+v", gap)
		}
	}
}

func TestApplyAppendsUserDataOnce(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	tracer := &captureTracer{}
	svc, oldID, newID := seededService(t, WithAuditRecorder(audit), WithTracer(tracer))
	plan, err := svc.Plan(ctx, oldID, newID, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	written, err := svc.Apply(ctx, plan)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(written.Appraisals) != 2 || len(written.AppraisalCriteria) != 6 || len(written.FinalEvaluations) != 1 {
		t.Fatalf("unexpected written data %+v", written)
	}
	for _, g := range written.AppraisalCriteria {
		if g.AppraisalID == 0 || g.HistoryID != newID {
			t.Fatalf("grade not linked: %+v", g)
		}
	}
	if !audit.has("apply_migration", AuditStatusSuccess, func(e AuditEntry) bool {
		return e.RunID == plan.RunID && e.Details["appraisals"] == "2" && e.Details["excluded"] == "1"
	}) {
		t.Fatalf("expected apply audit entry, got %+v", audit.entries)
	}

	if _, err := svc.Apply(ctx, plan); !errors.Is(err, ErrPlanApplied) {
		t.Fatalf("expected ErrPlanApplied, got %v", err)
	}
	if !audit.has("apply_migration", AuditStatusError, nil) || !tracer.has("apply_migration", false) {
		t.Fatalf("expected failed apply to be audited and traced")
	}
	stored, _ := svc.Store().UserData(ctx, newID)
	if len(stored.Appraisals) != 2 {
		t.Fatalf("second apply wrote data: %+v", stored.Appraisals)
	}
	if _, err := svc.Apply(ctx, nil); !errors.Is(err, ErrNilPlan) {
		t.Fatalf("expected ErrNilPlan, got %v", err)
	}
}

func TestApplyReleasesRunOnStoreError(t *testing.T) {
	svc, oldID, newID := seededService(t)
	plan, err := svc.Plan(context.Background(), oldID, newID, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	plan.NewHistoryID = 999
	if _, err := svc.Apply(context.Background(), plan); err == nil {
		t.Fatalf("expected missing history error")
	}
	plan.NewHistoryID = newID
	if _, err := svc.Apply(context.Background(), plan); err != nil {
		t.Fatalf("retry after store error should succeed: %v", err)
	}
}

func TestExportReportArchivesPlan(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	svc, oldID, newID := seededService(t, WithBlobStore(store), WithRunIDs(func() string { return "run-1" }))
	plan, err := svc.Plan(ctx, oldID, newID, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	info, err := svc.ExportReport(ctx, plan)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if info.Key != ReportKey(plan) || info.ContentType != "application/json" || info.Metadata["run-id"] != "run-1" {
		t.Fatalf("unexpected info %+v", info)
	}
	_, rc, err := store.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	raw, _ := io.ReadAll(rc)
	var decoded struct {
		RunID      string `json:"runid"`
		Appraisals struct {
			Appraisals []json.RawMessage `json:"appraisals"`
		} `json:"appraisals"`
		Orphaned []json.RawMessage `json:"orphaned"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.RunID != "run-1" || len(decoded.Appraisals.Appraisals) != 2 || len(decoded.Orphaned) != 1 {
		t.Fatalf("unexpected report %s", raw)
	}

	if _, err := svc.ExportReport(ctx, plan); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("reports are write-once, got %v", err)
	}
	reports, err := svc.Reports(ctx, oldID, newID)
	if err != nil || len(reports) != 1 {
		t.Fatalf("reports: %v %+v", err, reports)
	}
}

func TestExportReportPresignsWhenSupported(t *testing.T) {
	ctx := context.Background()
	fsStore, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	for _, store := range []blob.Store{fsStore, blob.NewMockS3ForTests()} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			svc, oldID, newID := seededService(t, WithBlobStore(store))
			plan, err := svc.Plan(ctx, oldID, newID, nil)
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			info, err := svc.ExportReport(ctx, plan)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if info.URL == "" {
				t.Fatalf("expected a download url for %s", store.Driver())
			}
		})
	}
}

func TestReportOperationsRequireBlobStore(t *testing.T) {
	svc, oldID, newID := seededService(t)
	plan, err := svc.Plan(context.Background(), oldID, newID, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := svc.ExportReport(context.Background(), plan); !errors.Is(err, ErrNoBlobStore) {
		t.Fatalf("expected ErrNoBlobStore, got %v", err)
	}
	if _, err := svc.Reports(context.Background(), oldID, newID); !errors.Is(err, ErrNoBlobStore) {
		t.Fatalf("expected ErrNoBlobStore, got %v", err)
	}
	withStore := NewInMemoryService(WithBlobStore(blob.NewMemory()))
	if _, err := withStore.ExportReport(context.Background(), nil); !errors.Is(err, ErrNilPlan) {
		t.Fatalf("expected ErrNilPlan, got %v", err)
	}
}

func TestWithMatchersRestrictsKinds(t *testing.T) {
	svc, oldID, newID := seededService(t, WithMatchers(match.GridMatcher{}))
	matcher, err := svc.Match(context.Background(), oldID, newID)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if kinds := matcher.Kinds(); len(kinds) != 1 || kinds[0] != domain.KindEvaluationGrid {
		t.Fatalf("unexpected kinds %v", kinds)
	}
	if _, err := svc.Plan(context.Background(), oldID, newID, nil); !errors.Is(err, migration.ErrMissingKind) {
		t.Fatalf("expected missing kind error, got %v", err)
	}
}

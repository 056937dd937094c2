// Package core hosts the migration service: it imports histories, reconciles
// two of them, plans the migration of user data and applies or archives the
// plan. Every operation is logged, timed, traced and, for writes, audited.
package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"cveteval/internal/blob"
	"cveteval/internal/infra/persistence/memory"
	"cveteval/internal/match"
	"cveteval/internal/migration"
	"cveteval/pkg/domain"
)

var (
	// ErrNoBlobStore is returned by report operations when no archive is configured.
	ErrNoBlobStore = errors.New("core: no blob store configured")
	// ErrPlanApplied is returned when a plan is applied twice by one service.
	ErrPlanApplied = errors.New("core: migration plan already applied")
	// ErrNilPlan is returned when a nil plan is passed to Apply or ExportReport.
	ErrNilPlan = errors.New("core: nil migration plan")
)

// Service coordinates the store, the matcher and the migration helpers.
type Service struct {
	store    domain.PersistentStore
	blobs    blob.Store
	matchers []match.Matcher

	logger   Logger
	clock    Clock
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
	newRunID func() string

	mu      sync.Mutex
	applied map[string]struct{}
}

// NewService wires a service to store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		matchers: match.DefaultMatchers(),
		logger:   noopLogger{},
		clock:    ClockFunc(nil),
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		audit:    noopAuditRecorder{},
		newRunID: uuid.NewString,
		applied:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService returns a service over an empty in-memory store.
func NewInMemoryService(opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the backing store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// run wraps an operation with tracing, timing, metrics and logging.
func (s *Service) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	started := s.clock.Now()
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, elapsed)
	if err != nil {
		s.logger.Error("operation failed", "operation", operation, "duration", elapsed, "error", err)
		return err
	}
	s.logger.Debug("operation completed", "operation", operation, "duration", elapsed)
	return nil
}

func (s *Service) record(ctx context.Context, entry AuditEntry, started time.Time, err error) {
	entry.Timestamp = s.clock.Now()
	entry.Duration = entry.Timestamp.Sub(started)
	entry.Status = AuditStatusSuccess
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// HistoryBundle is the import format of one history: its curriculum, the
// user data recorded against it and the users it references.
type HistoryBundle struct {
	History  domain.History  `json:"history"`
	Users    []domain.User   `json:"users"`
	Dataset  domain.Dataset  `json:"dataset"`
	UserData domain.UserData `json:"userdata"`
}

// ImportHistory stores the bundle users and creates the history.
func (s *Service) ImportHistory(ctx context.Context, bundle HistoryBundle) (domain.History, error) {
	var created domain.History
	start := s.clock.Now()
	err := s.run(ctx, "import_history", func(ctx context.Context) error {
		if err := validateBundle(bundle); err != nil {
			return err
		}
		if len(bundle.Users) > 0 {
			if err := s.store.PutUsers(ctx, bundle.Users); err != nil {
				return fmt.Errorf("store users: %w", err)
			}
		}
		var err error
		created, err = s.store.ImportHistory(ctx, bundle.History, bundle.Dataset, bundle.UserData)
		if err != nil {
			return fmt.Errorf("import history: %w", err)
		}
		s.logger.Info("history imported",
			"history", created.ID,
			"idnumber", created.IDNumber,
			"records", bundle.Dataset.Len(),
			"appraisals", len(bundle.UserData.Appraisals),
		)
		return nil
	})
	entry := AuditEntry{Operation: "import_history", Entity: string(domain.KindHistory), Action: "create"}
	if created.ID != 0 {
		entry.EntityID = strconv.FormatInt(created.ID, 10)
	}
	s.record(ctx, entry, start, err)
	return created, err
}

// validateBundle rejects bundles whose ids cannot key the matcher indexes and
// criteria forests that would make matching fail later.
func validateBundle(bundle HistoryBundle) error {
	if err := domain.ValidateUserIDs(bundle.Users); err != nil {
		return fmt.Errorf("invalid users: %w", err)
	}
	if err := bundle.Dataset.ValidateIDs(); err != nil {
		return fmt.Errorf("invalid dataset: %w", err)
	}
	if err := bundle.UserData.ValidateIDs(); err != nil {
		return fmt.Errorf("invalid user data: %w", err)
	}
	if err := match.NewIndex(bundle.Dataset, bundle.Users).ValidateCriteria(); err != nil {
		return fmt.Errorf("invalid dataset: %w", err)
	}
	return nil
}

// Histories lists the imported histories ordered by id.
func (s *Service) Histories(ctx context.Context) ([]domain.History, error) {
	var out []domain.History
	err := s.run(ctx, "list_histories", func(ctx context.Context) error {
		var err error
		out, err = s.store.Histories(ctx)
		return err
	})
	return out, err
}

// Match reconciles two histories and returns the finished matcher.
func (s *Service) Match(ctx context.Context, oldHistoryID, newHistoryID int64) (*match.DataModelMatcher, error) {
	var matcher *match.DataModelMatcher
	err := s.run(ctx, "match", func(ctx context.Context) error {
		var err error
		matcher, err = s.match(ctx, oldHistoryID, newHistoryID)
		return err
	})
	return matcher, err
}

func (s *Service) match(ctx context.Context, oldHistoryID, newHistoryID int64) (*match.DataModelMatcher, error) {
	matcher := match.NewDataModelMatcher(s.store, oldHistoryID, newHistoryID, match.WithMatchers(s.matchers...))
	if err := matcher.Run(ctx); err != nil {
		return nil, err
	}
	summary := matcher.Summary()
	if observer, ok := s.metrics.(SummaryObserver); ok {
		observer.ObserveSummary(ctx, summary)
	}
	for _, sum := range summary {
		s.logger.Debug("kind reconciled",
			"kind", sum.Kind,
			"matched", sum.Matched,
			"unmatched_old", sum.UnmatchedOld,
			"unmatched_new", sum.UnmatchedNew,
			"orphaned_old", sum.OrphanedOld,
			"orphaned_new", sum.OrphanedNew,
		)
	}
	return matcher, nil
}

// Plan reconciles the histories, applies operator assignments and converts
// the old user data for the selected contexts. Nothing is written.
func (s *Service) Plan(ctx context.Context, oldHistoryID, newHistoryID int64, contexts []migration.Context, assignments ...match.Assignment) (*MigrationPlan, error) {
	var plan *MigrationPlan
	err := s.run(ctx, "plan_migration", func(ctx context.Context) error {
		if len(contexts) == 0 {
			contexts = migration.AllContexts
		}
		matcher, err := s.match(ctx, oldHistoryID, newHistoryID)
		if err != nil {
			return err
		}
		data, err := matcher.Data()
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if err := data.Assign(a.Kind, a.OldID, a.NewID); err != nil {
				return err
			}
		}
		appraisals, err := migration.ConvertOriginAppraisals(contexts, data)
		if err != nil {
			return fmt.Errorf("convert appraisals: %w", err)
		}
		finals, err := migration.ConvertOriginFinalEvals(contexts, data)
		if err != nil {
			return fmt.Errorf("convert final evaluations: %w", err)
		}
		plan = &MigrationPlan{
			RunID:            s.newRunID(),
			OldHistoryID:     oldHistoryID,
			NewHistoryID:     newHistoryID,
			Contexts:         append([]migration.Context(nil), contexts...),
			CreatedAt:        s.clock.Now(),
			Summary:          matcher.Summary(),
			Matched:          data.Matched,
			Unmatched:        data.Unmatched,
			Orphaned:         data.Orphaned,
			Assignments:      data.Assignments,
			Appraisals:       appraisals,
			FinalEvaluations: finals,
		}
		if n := plan.Excluded(); n > 0 {
			s.logger.Warn("user data left behind", "run", plan.RunID, "excluded", n, "dropped_grades", len(appraisals.GradeGaps))
		}
		s.logger.Info("migration planned",
			"run", plan.RunID,
			"old_history", oldHistoryID,
			"new_history", newHistoryID,
			"appraisals", len(appraisals.Appraisals),
			"final_evaluations", len(finals.Evaluations),
		)
		return nil
	})
	return plan, err
}

// Apply appends the converted user data of plan to its new history. A plan
// can be applied once per service.
func (s *Service) Apply(ctx context.Context, plan *MigrationPlan) (domain.UserData, error) {
	var written domain.UserData
	start := s.clock.Now()
	err := s.run(ctx, "apply_migration", func(ctx context.Context) error {
		if plan == nil {
			return ErrNilPlan
		}
		if !s.claim(plan.RunID) {
			return fmt.Errorf("%w: %s", ErrPlanApplied, plan.RunID)
		}
		var err error
		written, err = s.store.AppendUserData(ctx, plan.NewHistoryID, plan.Appraisals.Records(), plan.FinalEvaluations.Records())
		if err != nil {
			s.release(plan.RunID)
			return fmt.Errorf("append user data: %w", err)
		}
		s.logger.Info("migration applied",
			"run", plan.RunID,
			"history", plan.NewHistoryID,
			"appraisals", len(plan.Appraisals.Appraisals),
			"final_evaluations", len(plan.FinalEvaluations.Evaluations),
		)
		return nil
	})
	entry := AuditEntry{Operation: "apply_migration", Entity: string(domain.KindHistory), Action: "append_user_data"}
	if plan != nil {
		entry.EntityID = strconv.FormatInt(plan.NewHistoryID, 10)
		entry.RunID = plan.RunID
		entry.Details = map[string]string{
			"old_history":       strconv.FormatInt(plan.OldHistoryID, 10),
			"appraisals":        strconv.Itoa(len(plan.Appraisals.Appraisals)),
			"final_evaluations": strconv.Itoa(len(plan.FinalEvaluations.Evaluations)),
			"excluded":          strconv.Itoa(plan.Excluded()),
		}
	}
	s.record(ctx, entry, start, err)
	return written, err
}

func (s *Service) claim(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.applied[runID]; done {
		return false
	}
	s.applied[runID] = struct{}{}
	return true
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	delete(s.applied, runID)
	s.mu.Unlock()
}

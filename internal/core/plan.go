package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cveteval/internal/blob"
	"cveteval/internal/match"
	"cveteval/internal/migration"
)

// MigrationPlan is the reviewable outcome of Plan: the reconciliation, the
// operator assignments and the converted user data.
type MigrationPlan struct {
	RunID            string                        `json:"runid"`
	OldHistoryID     int64                         `json:"oldhistoryid"`
	NewHistoryID     int64                         `json:"newhistoryid"`
	Contexts         []migration.Context           `json:"contexts"`
	CreatedAt        time.Time                     `json:"createdat"`
	Summary          []match.Summary               `json:"summary"`
	Matched          []match.Pair                  `json:"matched"`
	Unmatched        []match.Unmatched             `json:"unmatched"`
	Orphaned         []match.Orphan                `json:"orphaned"`
	Assignments      []match.Assignment            `json:"assignments"`
	Appraisals       migration.AppraisalConversion `json:"appraisals"`
	FinalEvaluations migration.FinalEvalConversion `json:"finalevaluations"`
}

// Excluded counts the appraisals and final evaluations left behind.
func (p *MigrationPlan) Excluded() int {
	return p.Appraisals.Excluded() + p.FinalEvaluations.Excluded()
}

// Gaps returns every unresolved reference of the plan, grade gaps included.
func (p *MigrationPlan) Gaps() []migration.Gap {
	out := make([]migration.Gap, 0, len(p.Appraisals.Gaps)+len(p.Appraisals.GradeGaps)+len(p.FinalEvaluations.Gaps))
	out = append(out, p.Appraisals.Gaps...)
	out = append(out, p.Appraisals.GradeGaps...)
	return append(out, p.FinalEvaluations.Gaps...)
}

// ReportPrefix is the archive prefix of the reports of one history pair.
func ReportPrefix(oldHistoryID, newHistoryID int64) string {
	return fmt.Sprintf("reports/%d-%d/", oldHistoryID, newHistoryID)
}

// ReportKey is the archive key of a plan report.
func ReportKey(plan *MigrationPlan) string {
	return ReportPrefix(plan.OldHistoryID, plan.NewHistoryID) + plan.RunID + ".json"
}

// ExportReport archives plan as indented JSON under ReportKey.
func (s *Service) ExportReport(ctx context.Context, plan *MigrationPlan) (blob.Info, error) {
	var info blob.Info
	err := s.run(ctx, "export_report", func(ctx context.Context) error {
		if s.blobs == nil {
			return ErrNoBlobStore
		}
		if plan == nil {
			return ErrNilPlan
		}
		raw, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		info, err = s.blobs.Put(ctx, ReportKey(plan), bytes.NewReader(raw), blob.PutOptions{
			ContentType: "application/json",
			Metadata: map[string]string{
				"run-id":      plan.RunID,
				"old-history": strconv.FormatInt(plan.OldHistoryID, 10),
				"new-history": strconv.FormatInt(plan.NewHistoryID, 10),
			},
		})
		if err != nil {
			return fmt.Errorf("store report: %w", err)
		}
		if info.URL == "" {
			if url, err := s.blobs.PresignURL(ctx, info.Key, 0); err == nil {
				info.URL = url
			}
		}
		s.logger.Info("report exported", "run", plan.RunID, "key", info.Key, "driver", s.blobs.Driver(), "bytes", info.Size)
		return nil
	})
	return info, err
}

// Reports lists the archived reports of a history pair ordered by key.
func (s *Service) Reports(ctx context.Context, oldHistoryID, newHistoryID int64) ([]blob.Info, error) {
	var out []blob.Info
	err := s.run(ctx, "list_reports", func(ctx context.Context) error {
		if s.blobs == nil {
			return ErrNoBlobStore
		}
		var err error
		out, err = s.blobs.List(ctx, ReportPrefix(oldHistoryID, newHistoryID))
		return err
	})
	return out, err
}

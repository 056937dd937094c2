package migration

import (
	"cveteval/internal/match"
	"cveteval/pkg/domain"
)

// ConvertedAppraisal is an old appraisal rebound to new-history ids. Ids of
// the appraisal and its grades are zero; the store assigns them on write.
type ConvertedAppraisal struct {
	OriginID  int64                       `json:"originid"`
	Appraisal domain.Appraisal            `json:"appraisal"`
	Criteria  []domain.AppraisalCriterion `json:"criteria"`
}

// AppraisalConversion is the outcome of ConvertOriginAppraisals. Gaps lists
// excluded appraisals; GradeGaps lists grades dropped from kept appraisals.
type AppraisalConversion struct {
	Appraisals []ConvertedAppraisal `json:"appraisals"`
	Gaps       []Gap                `json:"gaps"`
	GradeGaps  []Gap                `json:"gradegaps"`
}

// Excluded returns the number of appraisals left behind.
func (c AppraisalConversion) Excluded() int { return len(c.Gaps) }

// Records returns the converted appraisals in the shape the store accepts.
func (c AppraisalConversion) Records() []domain.AppraisalRecord {
	out := make([]domain.AppraisalRecord, 0, len(c.Appraisals))
	for _, a := range c.Appraisals {
		out = append(out, domain.AppraisalRecord{Appraisal: a.Appraisal, Criteria: a.Criteria})
	}
	return out
}

// ConvertedFinalEval is an old final evaluation rebound to new-history ids.
type ConvertedFinalEval struct {
	OriginID   int64                  `json:"originid"`
	Evaluation domain.FinalEvaluation `json:"evaluation"`
}

// FinalEvalConversion is the outcome of ConvertOriginFinalEvals.
type FinalEvalConversion struct {
	Evaluations []ConvertedFinalEval `json:"evaluations"`
	Gaps        []Gap                `json:"gaps"`
}

// Excluded returns the number of final evaluations left behind.
func (c FinalEvalConversion) Excluded() int { return len(c.Gaps) }

// Records returns the converted final evaluations.
func (c FinalEvalConversion) Records() []domain.FinalEvaluation {
	out := make([]domain.FinalEvaluation, 0, len(c.Evaluations))
	for _, e := range c.Evaluations {
		out = append(out, e.Evaluation)
	}
	return out
}

// ConvertOriginAppraisals rebinds every appraisal of the old history to the
// new history. An appraisal whose planning cannot be resolved is excluded and
// recorded as a gap; a grade whose criterion cannot be resolved is dropped
// from its appraisal and recorded as a grade gap. Records are visited in id
// order so repeated conversions of the same data are identical.
func ConvertOriginAppraisals(contexts []Context, data *match.Data) (AppraisalConversion, error) {
	if data == nil {
		return AppraisalConversion{}, ErrNoMatchData
	}
	plannings, err := newResolver(data, domain.KindPlanning, contexts)
	if err != nil {
		return AppraisalConversion{}, err
	}
	criteria, err := newResolver(data, domain.KindCriterion, contexts)
	if err != nil {
		return AppraisalConversion{}, err
	}

	origin := data.Origin.Clone()
	domain.SortByID(origin.Appraisals)
	grades := origin.CriteriaByAppraisal()

	var out AppraisalConversion
	for _, a := range origin.Appraisals {
		planID, status := plannings.resolve(a.EvalPlanID)
		if status != "" {
			out.Gaps = append(out.Gaps, Gap{
				Kind:        domain.KindAppraisal,
				OriginID:    a.ID,
				Reference:   domain.KindPlanning,
				ReferenceID: a.EvalPlanID,
				Status:      status,
			})
			continue
		}
		converted := ConvertedAppraisal{OriginID: a.ID, Appraisal: a}
		converted.Appraisal.ID = 0
		converted.Appraisal.HistoryID = data.NewHistoryID
		converted.Appraisal.EvalPlanID = planID
		for _, g := range grades[a.ID] {
			criterionID, status := criteria.resolve(g.CriterionID)
			if status != "" {
				out.GradeGaps = append(out.GradeGaps, Gap{
					Kind:        domain.KindAppraisalCriterion,
					OriginID:    g.ID,
					AppraisalID: a.ID,
					Reference:   domain.KindCriterion,
					ReferenceID: g.CriterionID,
					Status:      status,
				})
				continue
			}
			g.ID = 0
			g.AppraisalID = 0
			g.HistoryID = data.NewHistoryID
			g.CriterionID = criterionID
			converted.Criteria = append(converted.Criteria, g)
		}
		out.Appraisals = append(out.Appraisals, converted)
	}
	return out, nil
}

// ConvertOriginFinalEvals applies the planning resolution of
// ConvertOriginAppraisals to final evaluations.
func ConvertOriginFinalEvals(contexts []Context, data *match.Data) (FinalEvalConversion, error) {
	if data == nil {
		return FinalEvalConversion{}, ErrNoMatchData
	}
	plannings, err := newResolver(data, domain.KindPlanning, contexts)
	if err != nil {
		return FinalEvalConversion{}, err
	}
	finals := data.Origin.Clone().FinalEvaluations
	domain.SortByID(finals)

	var out FinalEvalConversion
	for _, f := range finals {
		planID, status := plannings.resolve(f.EvalPlanID)
		if status != "" {
			out.Gaps = append(out.Gaps, Gap{
				Kind:        domain.KindFinalEvaluation,
				OriginID:    f.ID,
				Reference:   domain.KindPlanning,
				ReferenceID: f.EvalPlanID,
				Status:      status,
			})
			continue
		}
		originID := f.ID
		f.ID = 0
		f.HistoryID = data.NewHistoryID
		f.EvalPlanID = planID
		out.Evaluations = append(out.Evaluations, ConvertedFinalEval{OriginID: originID, Evaluation: f})
	}
	return out, nil
}

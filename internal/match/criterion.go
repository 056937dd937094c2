package match

import (
	"slices"

	"cveteval/pkg/domain"
)

// CriterionMatcher matches criteria by idnumber within matched grids. Parent
// position is not part of the identity: a matched pair whose parent changed is
// still matched and carries a Drift describing the move. A criterion whose
// idnumber changed is unmatched on both sides.
type CriterionMatcher struct{}

// Kind implements Matcher.
func (CriterionMatcher) Kind() domain.EntityKind { return domain.KindCriterion }

// DependsOn implements Matcher.
func (CriterionMatcher) DependsOn() []domain.EntityKind {
	return []domain.EntityKind{domain.KindEvaluationGrid}
}

// Match implements Matcher.
func (m CriterionMatcher) Match(in Input, resolved Resolved) (*Result, error) {
	if err := resolved.require(m.Kind(), m.DependsOn()...); err != nil {
		return nil, err
	}
	if err := in.Old.ValidateCriteria(); err != nil {
		return nil, err
	}
	if err := in.New.ValidateCriteria(); err != nil {
		return nil, err
	}
	grids := resolved[domain.KindEvaluationGrid]
	k := keyMatch[domain.Criterion]{
		kind:   domain.KindCriterion,
		oldKey: func(c domain.Criterion) (string, bool) {
			grid, _ := in.Old.gridKey(c.EvalGridID)
			return joinKey(grid, c.IDNumber), c.IDNumber != "" && matchedRef(grids, c.EvalGridID)
		},
		newKey: func(c domain.Criterion) (string, bool) {
			grid, gridOK := in.New.gridKey(c.EvalGridID)
			return joinKey(grid, c.IDNumber), c.IDNumber != "" && gridOK
		},
		confirm: func(o, n domain.Criterion) bool { return counterpart(grids, o.EvalGridID, n.EvalGridID) },
	}
	return k.match(in.Old.Data.Criteria, in.New.Data.Criteria, func(p *Pair, o, n domain.Criterion) error {
		drift, err := criterionDrift(in, o, n)
		if err != nil {
			return err
		}
		p.Drift = drift
		return nil
	})
}

func criterionDrift(in Input, o, n domain.Criterion) (*Drift, error) {
	oldLineage, err := in.Old.lineage(o)
	if err != nil {
		return nil, err
	}
	newLineage, err := in.New.lineage(n)
	if err != nil {
		return nil, err
	}
	return &Drift{
		ParentChanged:  in.Old.parentKey(o) != in.New.parentKey(n),
		LineageChanged: !slices.Equal(oldLineage, newLineage),
		OldLineage:     oldLineage,
		NewLineage:     newLineage,
	}, nil
}

package match

import (
	"fmt"

	"cveteval/pkg/domain"
)

// Index is a per-run lookup of one history's entities by local id. It is built
// once per run and owned by the caller.
type Index struct {
	HistoryID int64
	Data      domain.Dataset

	users      map[int64]domain.User
	grids      map[int64]domain.EvaluationGrid
	criteria   map[int64]domain.Criterion
	situations map[int64]domain.Situation
	groups     map[int64]domain.Group
	plannings  map[int64]domain.Planning
}

// NewIndex indexes a dataset together with the host users it references.
func NewIndex(data domain.Dataset, users []domain.User) *Index {
	idx := &Index{
		HistoryID:  data.HistoryID,
		Data:       data,
		users:      byID(users, func(u domain.User) int64 { return u.ID }),
		grids:      byID(data.Grids, domain.EvaluationGrid.EntityID),
		criteria:   byID(data.Criteria, domain.Criterion.EntityID),
		situations: byID(data.Situations, domain.Situation.EntityID),
		groups:     byID(data.Groups, domain.Group.EntityID),
		plannings:  byID(data.Plannings, domain.Planning.EntityID),
	}
	return idx
}

func byID[T any](items []T, id func(T) int64) map[int64]T {
	out := make(map[int64]T, len(items))
	for _, item := range items {
		out[id(item)] = item
	}
	return out
}

// User looks up a host user.
func (i *Index) User(id int64) (domain.User, bool) {
	u, ok := i.users[id]
	return u, ok
}

// Grid looks up an evaluation grid.
func (i *Index) Grid(id int64) (domain.EvaluationGrid, bool) {
	g, ok := i.grids[id]
	return g, ok
}

// Criterion looks up a criterion.
func (i *Index) Criterion(id int64) (domain.Criterion, bool) {
	c, ok := i.criteria[id]
	return c, ok
}

// Situation looks up a situation.
func (i *Index) Situation(id int64) (domain.Situation, bool) {
	s, ok := i.situations[id]
	return s, ok
}

// Group looks up a group.
func (i *Index) Group(id int64) (domain.Group, bool) {
	g, ok := i.groups[id]
	return g, ok
}

// Has reports whether an entity of the kind exists in the history. Users are
// looked up in the host user table.
func (i *Index) Has(kind domain.EntityKind, id int64) bool {
	var ok bool
	switch kind {
	case domain.KindUser:
		_, ok = i.users[id]
	case domain.KindEvaluationGrid:
		_, ok = i.grids[id]
	case domain.KindCriterion:
		_, ok = i.criteria[id]
	case domain.KindSituation:
		_, ok = i.situations[id]
	case domain.KindGroup:
		_, ok = i.groups[id]
	case domain.KindPlanning:
		_, ok = i.plannings[id]
	}
	return ok
}

// lineage returns the parent idnumbers of a criterion from the root down to
// its direct parent. A dangling parent ends the chain.
func (i *Index) lineage(c domain.Criterion) ([]string, error) {
	var chain []string
	seen := map[int64]struct{}{c.ID: {}}
	for parentID := c.ParentID; parentID != 0; {
		if _, loop := seen[parentID]; loop {
			return nil, ErrCriterionCycle
		}
		seen[parentID] = struct{}{}
		parent, ok := i.criteria[parentID]
		if !ok {
			break
		}
		chain = append(chain, parent.IDNumber)
		parentID = parent.ParentID
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain, nil
}

// ValidateCriteria rejects criteria forests containing a parent cycle.
func (i *Index) ValidateCriteria() error {
	for _, c := range i.Data.Criteria {
		if _, err := i.lineage(c); err != nil {
			return fmt.Errorf("%w: criterion %d (%s) in history %d", err, c.ID, c.IDNumber, i.HistoryID)
		}
	}
	return nil
}

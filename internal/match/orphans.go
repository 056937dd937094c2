package match

import (
	"cveteval/pkg/domain"
)

type reference struct {
	kind domain.EntityKind
	id   int64
}

// references lists the cross-entity references of a curriculum entity in the
// order they are checked.
func references(e domain.Entity) []reference {
	switch v := e.(type) {
	case domain.Criterion:
		refs := []reference{{domain.KindEvaluationGrid, v.EvalGridID}}
		if v.ParentID != 0 {
			refs = append(refs, reference{domain.KindCriterion, v.ParentID})
		}
		return refs
	case domain.Situation:
		return []reference{{domain.KindEvaluationGrid, v.EvalGridID}}
	case domain.GroupAssignment:
		return []reference{{domain.KindUser, v.StudentID}, {domain.KindGroup, v.GroupID}}
	case domain.Planning:
		return []reference{{domain.KindGroup, v.GroupID}, {domain.KindSituation, v.SituationID}}
	case domain.Role:
		return []reference{{domain.KindUser, v.UserID}, {domain.KindSituation, v.SituationID}}
	}
	return nil
}

type entityRef struct {
	side Side
	kind domain.EntityKind
	id   int64
}

// classifier splits unmatched entities into plain unmatched and orphaned.
// An old entity is orphaned when a reference is missing from the old history
// or has no counterpart in the new one. A new entity is orphaned when a
// reference is missing from the new history or is itself orphaned.
type classifier struct {
	in        Input
	resolved  Resolved
	unmatched map[entityRef]Unmatched
	memo      map[entityRef]*Orphan
}

func newClassifier(in Input, resolved Resolved) *classifier {
	c := &classifier{
		in:        in,
		resolved:  resolved,
		unmatched: make(map[entityRef]Unmatched),
		memo:      make(map[entityRef]*Orphan),
	}
	for _, res := range resolved {
		for _, u := range res.UnmatchedOld {
			c.unmatched[entityRef{SideOld, u.Kind, u.ID()}] = u
		}
		for _, u := range res.UnmatchedNew {
			c.unmatched[entityRef{SideNew, u.Kind, u.ID()}] = u
		}
	}
	return c
}

func (c *classifier) index(side Side) *Index {
	if side == SideOld {
		return c.in.Old
	}
	return c.in.New
}

// orphan returns the orphan record of an unmatched entity, or nil when the
// entity is matched or its references hold. Reference chains are acyclic so
// the recursion terminates.
func (c *classifier) orphan(ref entityRef) *Orphan {
	if o, done := c.memo[ref]; done {
		return o
	}
	u, ok := c.unmatched[ref]
	if !ok {
		return nil
	}
	var found *Orphan
	for _, r := range references(u.Entity) {
		if reason, broken := c.broken(ref.side, r); broken {
			found = &Orphan{Unmatched: u, Reference: r.kind, ReferenceID: r.id, Reason: reason}
			break
		}
	}
	c.memo[ref] = found
	return found
}

func (c *classifier) broken(side Side, r reference) (string, bool) {
	if !c.index(side).Has(r.kind, r.id) {
		return ReasonMissing, true
	}
	res, ok := c.resolved[r.kind]
	if !ok {
		return "", false
	}
	target := entityRef{side, r.kind, r.id}
	if side == SideOld {
		if matchedRef(res, r.id) {
			return "", false
		}
		if c.orphan(target) != nil {
			return ReasonOrphaned, true
		}
		return ReasonUnmatched, true
	}
	if res.IsMatchedNew(r.id) {
		return "", false
	}
	if c.orphan(target) != nil {
		return ReasonOrphaned, true
	}
	return "", false
}

// split partitions the unmatched entities of one result, keeping key order.
func (c *classifier) split(res *Result) ([]Unmatched, []Orphan) {
	var (
		unmatched []Unmatched
		orphaned  []Orphan
	)
	for _, group := range [][]Unmatched{res.UnmatchedOld, res.UnmatchedNew} {
		for _, u := range group {
			if o := c.orphan(entityRef{u.Side, u.Kind, u.ID()}); o != nil {
				orphaned = append(orphaned, *o)
				continue
			}
			unmatched = append(unmatched, u)
		}
	}
	return unmatched, orphaned
}

// Package match reconciles two histories of the curriculum dataset. Each entity
// kind has a matcher keyed on natural keys; the DataModelMatcher runs them in
// dependency order and classifies every entity as matched, unmatched or orphaned.
package match

import (
	"errors"
	"fmt"

	"cveteval/pkg/domain"
)

// Side tells which history an unmatched or orphaned entity comes from.
type Side string

const (
	// SideOld is the history the user data is migrated from.
	SideOld Side = "old"
	// SideNew is the history the user data is migrated to.
	SideNew Side = "new"
)

var (
	// ErrUnresolvedDependency reports a matcher invoked before the kinds it references.
	ErrUnresolvedDependency = errors.New("match: unresolved matcher dependency")
	// ErrCriterionCycle reports a parent chain that loops back on itself.
	ErrCriterionCycle = errors.New("match: criterion parent cycle")
	// ErrNotRun is returned by readers used before a successful Run.
	ErrNotRun = errors.New("match: data model matcher has not run")
)

// Drift describes how the parent lineage of a matched criterion changed.
// Lineages list parent idnumbers from the root down to the direct parent.
type Drift struct {
	ParentChanged  bool     `json:"parentchanged"`
	LineageChanged bool     `json:"lineagechanged"`
	OldLineage     []string `json:"oldlineage"`
	NewLineage     []string `json:"newlineage"`
}

// Pair is one matched (old, new) correspondence.
type Pair struct {
	Kind  domain.EntityKind `json:"kind"`
	Key   string            `json:"key"`
	Old   domain.Entity     `json:"old"`
	New   domain.Entity     `json:"new"`
	Drift *Drift            `json:"drift,omitempty"`
}

// OldID returns the local id of the old entity.
func (p Pair) OldID() int64 { return p.Old.EntityID() }

// NewID returns the local id of the new entity.
func (p Pair) NewID() int64 { return p.New.EntityID() }

// Unmatched is an entity present in one history only.
type Unmatched struct {
	Kind   domain.EntityKind `json:"kind"`
	Side   Side              `json:"side"`
	Key    string            `json:"key"`
	Entity domain.Entity     `json:"entity"`
}

// ID returns the local id of the entity.
func (u Unmatched) ID() int64 { return u.Entity.EntityID() }

// Orphan is an unmatched entity whose dependency chain is broken: one of its
// references is missing from its own history, or (old side) has no counterpart.
type Orphan struct {
	Unmatched
	Reference   domain.EntityKind `json:"reference"`
	ReferenceID int64             `json:"referenceid"`
	Reason      string            `json:"reason"`
}

// Orphan reasons.
const (
	ReasonMissing   = "reference missing"
	ReasonUnmatched = "reference unmatched"
	ReasonOrphaned  = "reference orphaned"
)

// Result is the output of one matcher. Every input entity appears in exactly
// one of the three collections.
type Result struct {
	Kind         domain.EntityKind
	Matched      []Pair
	UnmatchedOld []Unmatched
	UnmatchedNew []Unmatched

	byOld map[int64]int64
	byNew map[int64]int64
}

func newResult(kind domain.EntityKind, matched []Pair, unmatchedOld, unmatchedNew []Unmatched) *Result {
	r := &Result{
		Kind:         kind,
		Matched:      matched,
		UnmatchedOld: unmatchedOld,
		UnmatchedNew: unmatchedNew,
		byOld:        make(map[int64]int64, len(matched)),
		byNew:        make(map[int64]int64, len(matched)),
	}
	for _, p := range matched {
		r.byOld[p.OldID()] = p.NewID()
		r.byNew[p.NewID()] = p.OldID()
	}
	return r
}

// NewIDFor returns the new id matched to an old id.
func (r *Result) NewIDFor(oldID int64) (int64, bool) {
	id, ok := r.byOld[oldID]
	return id, ok
}

// IsMatchedNew reports whether the new id has an old counterpart.
func (r *Result) IsMatchedNew(newID int64) bool {
	_, ok := r.byNew[newID]
	return ok
}

// Resolved holds the results computed so far, by kind.
type Resolved map[domain.EntityKind]*Result

func (r Resolved) require(kind domain.EntityKind, deps ...domain.EntityKind) error {
	for _, dep := range deps {
		if _, ok := r[dep]; !ok {
			return fmt.Errorf("%w: %s requires %s", ErrUnresolvedDependency, kind, dep)
		}
	}
	return nil
}

// Summary counts the classification of one kind. Unmatched counts exclude orphans.
type Summary struct {
	Kind         domain.EntityKind `json:"kind"`
	Matched      int               `json:"matched"`
	UnmatchedOld int               `json:"unmatchedold"`
	UnmatchedNew int               `json:"unmatchednew"`
	OrphanedOld  int               `json:"orphanedold"`
	OrphanedNew  int               `json:"orphanednew"`
}

package match

import (
	"errors"
	"fmt"
	"slices"

	"cveteval/pkg/domain"
)

// Class is the classification of an old-history entity.
type Class string

// Classes of an old entity relative to the new history.
const (
	ClassMatched   Class = "matched"
	ClassUnmatched Class = "unmatched"
	ClassOrphaned  Class = "orphaned"
)

// ErrInvalidAssignment is returned when an operator assignment does not bind
// an unmatched or orphaned old entity to a free new entity of the same kind.
var ErrInvalidAssignment = errors.New("match: invalid assignment")

// Assignment is an operator decision binding an old entity that found no
// counterpart to an existing new entity.
type Assignment struct {
	Kind  domain.EntityKind `json:"kind"`
	Class Class             `json:"class"`
	OldID int64             `json:"oldid"`
	NewID int64             `json:"newid"`
}

// Data is the aggregated output of a data model matcher run together with the
// user data of the old history. It is plain data and can be built by hand.
type Data struct {
	OldHistoryID int64               `json:"oldhistoryid"`
	NewHistoryID int64               `json:"newhistoryid"`
	Kinds        []domain.EntityKind `json:"kinds"`
	Matched      []Pair              `json:"matched"`
	Unmatched    []Unmatched         `json:"unmatched"`
	Orphaned     []Orphan            `json:"orphaned"`
	Assignments  []Assignment        `json:"assignments"`
	Origin       domain.UserData     `json:"-"`
}

// HasKind reports whether the kind took part in matching.
func (d *Data) HasKind(kind domain.EntityKind) bool {
	return slices.Contains(d.Kinds, kind)
}

// Classes returns the classification of every old entity of a kind by id.
func (d *Data) Classes(kind domain.EntityKind) map[int64]Class {
	out := make(map[int64]Class)
	for _, p := range d.Matched {
		if p.Kind == kind {
			out[p.OldID()] = ClassMatched
		}
	}
	for _, u := range d.Unmatched {
		if u.Kind == kind && u.Side == SideOld {
			out[u.ID()] = ClassUnmatched
		}
	}
	for _, o := range d.Orphaned {
		if o.Kind == kind && o.Side == SideOld {
			out[o.ID()] = ClassOrphaned
		}
	}
	return out
}

// Mapping returns old id to new id for a kind, restricted to the given
// classes. Matched pairs feed ClassMatched; assignments feed the others.
func (d *Data) Mapping(kind domain.EntityKind, classes ...Class) map[int64]int64 {
	out := make(map[int64]int64)
	if slices.Contains(classes, ClassMatched) {
		for _, p := range d.Matched {
			if p.Kind == kind {
				out[p.OldID()] = p.NewID()
			}
		}
	}
	for _, a := range d.Assignments {
		if a.Kind == kind && slices.Contains(classes, a.Class) {
			out[a.OldID] = a.NewID
		}
	}
	return out
}

// Assign binds an unmatched or orphaned old entity to an unmatched or
// orphaned new entity of the same kind. Assigning an old entity again
// replaces its previous target.
func (d *Data) Assign(kind domain.EntityKind, oldID, newID int64) error {
	class, ok := d.Classes(kind)[oldID]
	if !ok || class == ClassMatched {
		return fmt.Errorf("%w: %s %d is not an unmatched old entity", ErrInvalidAssignment, kind, oldID)
	}
	if !d.freeNew(kind, newID) {
		return fmt.Errorf("%w: %s %d is not an unmatched new entity", ErrInvalidAssignment, kind, newID)
	}
	for _, a := range d.Assignments {
		if a.Kind == kind && a.NewID == newID && a.OldID != oldID {
			return fmt.Errorf("%w: %s %d already assigned to %d", ErrInvalidAssignment, kind, newID, a.OldID)
		}
	}
	next := Assignment{Kind: kind, Class: class, OldID: oldID, NewID: newID}
	for i, a := range d.Assignments {
		if a.Kind == kind && a.OldID == oldID {
			d.Assignments[i] = next
			return nil
		}
	}
	d.Assignments = append(d.Assignments, next)
	return nil
}

func (d *Data) freeNew(kind domain.EntityKind, newID int64) bool {
	for _, u := range d.Unmatched {
		if u.Kind == kind && u.Side == SideNew && u.ID() == newID {
			return true
		}
	}
	for _, o := range d.Orphaned {
		if o.Kind == kind && o.Side == SideNew && o.ID() == newID {
			return true
		}
	}
	return false
}

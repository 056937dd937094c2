package migration

import (
	"errors"
	"fmt"

	"cveteval/internal/match"
	"cveteval/pkg/domain"
)

var (
	// ErrMissingKind reports match data lacking a kind the conversion needs.
	ErrMissingKind = errors.New("migration: match data is missing a required kind")
	// ErrNoMatchData reports a nil match data argument.
	ErrNoMatchData = errors.New("migration: no match data")
)

// Gap statuses of an unresolved reference.
const (
	StatusUnmatched   = "unmatched"
	StatusOrphaned    = "orphaned"
	StatusMissing     = "missing"
	StatusNotSelected = "not selected"
)

// Gap records a user data record that could not be carried to the new history.
type Gap struct {
	Kind        domain.EntityKind `json:"kind"`
	OriginID    int64             `json:"originid"`
	AppraisalID int64             `json:"appraisalid,omitempty"`
	Reference   domain.EntityKind `json:"reference"`
	ReferenceID int64             `json:"referenceid"`
	Status      string            `json:"status"`
}

// Reason renders the gap for operators, e.g. "planning orphaned".
func (g Gap) Reason() string {
	return fmt.Sprintf("%s %s", g.Reference, g.Status)
}

// resolver maps old ids of one kind to new ids for the selected contexts and
// explains the ones it cannot map.
type resolver struct {
	kind    domain.EntityKind
	mapping map[int64]int64
	classes map[int64]match.Class
}

func newResolver(data *match.Data, kind domain.EntityKind, contexts []Context) (resolver, error) {
	if !data.HasKind(kind) {
		return resolver{}, fmt.Errorf("%w: %s", ErrMissingKind, kind)
	}
	return resolver{
		kind:    kind,
		mapping: data.Mapping(kind, classes(contexts)...),
		classes: data.Classes(kind),
	}, nil
}

func (r resolver) resolve(oldID int64) (int64, string) {
	if id, ok := r.mapping[oldID]; ok {
		return id, ""
	}
	switch r.classes[oldID] {
	case match.ClassMatched:
		return 0, StatusNotSelected
	case match.ClassUnmatched:
		return 0, StatusUnmatched
	case match.ClassOrphaned:
		return 0, StatusOrphaned
	}
	return 0, StatusMissing
}

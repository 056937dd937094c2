package domain

import (
	"cmp"
	"slices"
)

// Dataset holds the curriculum collections of a single history.
type Dataset struct {
	HistoryID        int64             `json:"historyid"`
	Grids            []EvaluationGrid  `json:"evaluation_grids"`
	Criteria         []Criterion       `json:"criteria"`
	Situations       []Situation       `json:"situations"`
	Groups           []Group           `json:"groups"`
	GroupAssignments []GroupAssignment `json:"group_assignments"`
	Plannings        []Planning        `json:"plannings"`
	Roles            []Role            `json:"roles"`
}

// UserData holds the user generated collections of a single history.
type UserData struct {
	HistoryID         int64                `json:"historyid"`
	Appraisals        []Appraisal          `json:"appraisals"`
	AppraisalCriteria []AppraisalCriterion `json:"appraisal_criteria"`
	FinalEvaluations  []FinalEvaluation    `json:"final_evaluations"`
}

// AppraisalRecord bundles an appraisal with its criterion grades so both can be
// written together; the store assigns ids and links the grades.
type AppraisalRecord struct {
	Appraisal Appraisal            `json:"appraisal"`
	Criteria  []AppraisalCriterion `json:"criteria"`
}

// Clone returns a deep copy of the dataset.
func (d Dataset) Clone() Dataset {
	return Dataset{
		HistoryID:        d.HistoryID,
		Grids:            slices.Clone(d.Grids),
		Criteria:         slices.Clone(d.Criteria),
		Situations:       slices.Clone(d.Situations),
		Groups:           slices.Clone(d.Groups),
		GroupAssignments: slices.Clone(d.GroupAssignments),
		Plannings:        slices.Clone(d.Plannings),
		Roles:            slices.Clone(d.Roles),
	}
}

// Bind stamps every record with the history id and orders collections by id.
func (d Dataset) Bind(historyID int64) Dataset {
	out := d.Clone()
	out.HistoryID = historyID
	for i := range out.Grids {
		out.Grids[i].HistoryID = historyID
	}
	for i := range out.Criteria {
		out.Criteria[i].HistoryID = historyID
	}
	for i := range out.Situations {
		out.Situations[i].HistoryID = historyID
	}
	for i := range out.Groups {
		out.Groups[i].HistoryID = historyID
	}
	for i := range out.GroupAssignments {
		out.GroupAssignments[i].HistoryID = historyID
	}
	for i := range out.Plannings {
		out.Plannings[i].HistoryID = historyID
	}
	for i := range out.Roles {
		out.Roles[i].HistoryID = historyID
	}
	SortByID(out.Grids)
	SortByID(out.Criteria)
	SortByID(out.Situations)
	SortByID(out.Groups)
	SortByID(out.GroupAssignments)
	SortByID(out.Plannings)
	SortByID(out.Roles)
	return out
}

// Len returns the number of curriculum records in the dataset.
func (d Dataset) Len() int {
	return len(d.Grids) + len(d.Criteria) + len(d.Situations) + len(d.Groups) +
		len(d.GroupAssignments) + len(d.Plannings) + len(d.Roles)
}

// Clone returns a deep copy of the user data.
func (u UserData) Clone() UserData {
	return UserData{
		HistoryID:         u.HistoryID,
		Appraisals:        slices.Clone(u.Appraisals),
		AppraisalCriteria: slices.Clone(u.AppraisalCriteria),
		FinalEvaluations:  slices.Clone(u.FinalEvaluations),
	}
}

// Bind stamps every record with the history id and orders collections by id.
func (u UserData) Bind(historyID int64) UserData {
	out := u.Clone()
	out.HistoryID = historyID
	for i := range out.Appraisals {
		out.Appraisals[i].HistoryID = historyID
	}
	for i := range out.AppraisalCriteria {
		out.AppraisalCriteria[i].HistoryID = historyID
	}
	for i := range out.FinalEvaluations {
		out.FinalEvaluations[i].HistoryID = historyID
	}
	SortByID(out.Appraisals)
	SortByID(out.AppraisalCriteria)
	SortByID(out.FinalEvaluations)
	return out
}

// CriteriaByAppraisal groups criterion grades by appraisal id, preserving id order.
func (u UserData) CriteriaByAppraisal() map[int64][]AppraisalCriterion {
	out := make(map[int64][]AppraisalCriterion, len(u.Appraisals))
	grades := slices.Clone(u.AppraisalCriteria)
	SortByID(grades)
	for _, g := range grades {
		out[g.AppraisalID] = append(out[g.AppraisalID], g)
	}
	return out
}

// SortByID orders entities by their history-local id.
func SortByID[T Entity](items []T) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(a.EntityID(), b.EntityID())
	})
}

// MaxID returns the largest id in the collection, or zero when empty.
func MaxID[T Entity](items []T) int64 {
	var highest int64
	for _, item := range items {
		if id := item.EntityID(); id > highest {
			highest = id
		}
	}
	return highest
}

// ValidateIDs checks that every collection carries positive ids unique within
// its kind. References are not checked: a dangling reference is valid data
// and is classified by the matchers.
func (d Dataset) ValidateIDs() error {
	return firstError(
		checkIDs(KindEvaluationGrid, d.Grids),
		checkIDs(KindCriterion, d.Criteria),
		checkIDs(KindSituation, d.Situations),
		checkIDs(KindGroup, d.Groups),
		checkIDs(KindGroupAssignment, d.GroupAssignments),
		checkIDs(KindPlanning, d.Plannings),
		checkIDs(KindRole, d.Roles),
	)
}

// ValidateIDs checks the user data collections like Dataset.ValidateIDs.
func (u UserData) ValidateIDs() error {
	return firstError(
		checkIDs(KindAppraisal, u.Appraisals),
		checkIDs(KindAppraisalCriterion, u.AppraisalCriteria),
		checkIDs(KindFinalEvaluation, u.FinalEvaluations),
	)
}

// ValidateUserIDs checks that users carry positive unique ids.
func ValidateUserIDs(users []User) error {
	seen := make(map[int64]struct{}, len(users))
	for _, u := range users {
		if _, dup := seen[u.ID]; dup || u.ID <= 0 {
			return ErrInvalidID{Entity: KindUser, ID: u.ID}
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}

func checkIDs[T Entity](kind EntityKind, items []T) error {
	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		id := item.EntityID()
		if _, dup := seen[id]; dup || id <= 0 {
			return ErrInvalidID{Entity: kind, ID: id}
		}
		seen[id] = struct{}{}
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

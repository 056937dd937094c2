package testutil

import (
	"context"
	"fmt"

	"cveteval/pkg/domain"
)

// Fixture times shared by both histories.
const (
	PlanStart int64 = 1_700_000_000
	PlanEnd   int64 = PlanStart + 24*3600
)

// Host users shared by both histories.
const (
	Student1ID  int64 = 1
	Student2ID  int64 = 2
	Student3ID  int64 = 3
	Assessor1ID int64 = 4
	Assessor2ID int64 = 5
)

// Users returns the host users referenced by the fixtures.
func Users() []domain.User {
	return []domain.User{
		{ID: Student1ID, Username: "student1", Email: "student1@example.com"},
		{ID: Student2ID, Username: "student2", Email: "student2@example.com"},
		{ID: Student3ID, Username: "student3", Email: "student3@example.com"},
		{ID: Assessor1ID, Username: "assessor1", Email: "assessor1@example.com"},
		{ID: Assessor2ID, Username: "assessor2", Email: "assessor2@example.com"},
	}
}

// OldHistory is the first import: criterion1 with children criterion1bis and
// criterion2, situations SIT1 and SIT2, and plannings for Group 1, Group 2 and
// Group 2bis.
func OldHistory() (domain.History, domain.Dataset, domain.UserData) {
	data := domain.Dataset{
		Grids: []domain.EvaluationGrid{{Base: domain.Base{ID: 1}, Name: "Default grid", IDNumber: "evalgrid"}},
		Criteria: []domain.Criterion{
			{Base: domain.Base{ID: 1}, Label: "Criterion 1", IDNumber: "criterion1", Sort: 1, EvalGridID: 1},
			{Base: domain.Base{ID: 2}, Label: "Criterion 1bis", IDNumber: "criterion1bis", Sort: 2, ParentID: 1, EvalGridID: 1},
			{Base: domain.Base{ID: 3}, Label: "Criterion 2", IDNumber: "criterion2", Sort: 3, ParentID: 1, EvalGridID: 1},
		},
		Situations: []domain.Situation{
			{Base: domain.Base{ID: 1}, Title: "Situation 1", IDNumber: "SIT1", ExpectedEvalsNb: 1, EvalGridID: 1},
			{Base: domain.Base{ID: 2}, Title: "Situation 2", IDNumber: "SIT2", ExpectedEvalsNb: 2, EvalGridID: 1},
		},
		Groups: []domain.Group{
			{Base: domain.Base{ID: 1}, Name: "Group 1"},
			{Base: domain.Base{ID: 2}, Name: "Group 2"},
			{Base: domain.Base{ID: 3}, Name: "Group 2bis"},
		},
		GroupAssignments: []domain.GroupAssignment{
			{Base: domain.Base{ID: 1}, StudentID: Student1ID, GroupID: 1},
			{Base: domain.Base{ID: 2}, StudentID: Student2ID, GroupID: 1},
			{Base: domain.Base{ID: 3}, StudentID: Student2ID, GroupID: 2},
		},
		Plannings: []domain.Planning{
			{Base: domain.Base{ID: 1}, GroupID: 1, SituationID: 1, StartTime: PlanStart, EndTime: PlanEnd},
			{Base: domain.Base{ID: 2}, GroupID: 2, SituationID: 2, StartTime: PlanStart, EndTime: PlanEnd},
			{Base: domain.Base{ID: 3}, GroupID: 3, SituationID: 2, StartTime: PlanStart, EndTime: PlanEnd},
		},
		Roles: []domain.Role{
			{Base: domain.Base{ID: 1}, UserID: Assessor1ID, SituationID: 1, Type: domain.RoleAssessor},
			{Base: domain.Base{ID: 2}, UserID: Assessor2ID, SituationID: 2, Type: domain.RoleAssessor},
		},
	}
	userData := domain.UserData{
		Appraisals: []domain.Appraisal{
			{Base: domain.Base{ID: 1}, StudentID: Student1ID, AppraiserID: Assessor1ID, EvalPlanID: 1, Context: "Context", Comment: "Context", TimeCreated: PlanStart, TimeModified: PlanStart},
			{Base: domain.Base{ID: 2}, StudentID: Student1ID, AppraiserID: Assessor2ID, EvalPlanID: 2, Context: "Context", Comment: "Context", TimeCreated: PlanStart, TimeModified: PlanStart},
		},
		AppraisalCriteria: append(grades(1, 1, []int64{1, 2, 3}), grades(4, 2, []int64{1, 2, 3})...),
		FinalEvaluations: []domain.FinalEvaluation{
			{Base: domain.Base{ID: 1}, StudentID: Student1ID, AssessorID: Assessor1ID, EvalPlanID: 1, Grade: 1, Comment: "Final", TimeCreated: PlanEnd},
			{Base: domain.Base{ID: 2}, StudentID: Student2ID, AssessorID: Assessor2ID, EvalPlanID: 3, Grade: 2, Comment: "Final", TimeCreated: PlanEnd},
		},
	}
	return domain.History{IDNumber: "history1"}, data, userData
}

// NewHistory is the re-import: criterion1bis moved under criterion2, SIT3 and
// Group 3 added, Group 2bis gone. Local ids differ from OldHistory on purpose.
func NewHistory() (domain.History, domain.Dataset, domain.UserData) {
	data := domain.Dataset{
		Grids: []domain.EvaluationGrid{{Base: domain.Base{ID: 7}, Name: "Default grid", IDNumber: "evalgrid"}},
		Criteria: []domain.Criterion{
			{Base: domain.Base{ID: 10}, Label: "Criterion 1", IDNumber: "criterion1", Sort: 1, EvalGridID: 7},
			{Base: domain.Base{ID: 11}, Label: "Criterion 2", IDNumber: "criterion2", Sort: 2, ParentID: 10, EvalGridID: 7},
			{Base: domain.Base{ID: 12}, Label: "Criterion 1bis", IDNumber: "criterion1bis", Sort: 3, ParentID: 11, EvalGridID: 7},
		},
		Situations: []domain.Situation{
			{Base: domain.Base{ID: 20}, Title: "Situation 1", IDNumber: "SIT1", ExpectedEvalsNb: 1, EvalGridID: 7},
			{Base: domain.Base{ID: 21}, Title: "Situation 2", IDNumber: "SIT2", ExpectedEvalsNb: 2, EvalGridID: 7},
			{Base: domain.Base{ID: 22}, Title: "Situation 3", IDNumber: "SIT3", ExpectedEvalsNb: 1, EvalGridID: 7},
		},
		Groups: []domain.Group{
			{Base: domain.Base{ID: 30}, Name: "Group 1"},
			{Base: domain.Base{ID: 31}, Name: "Group 2"},
			{Base: domain.Base{ID: 32}, Name: "Group 3"},
		},
		GroupAssignments: []domain.GroupAssignment{
			{Base: domain.Base{ID: 1}, StudentID: Student1ID, GroupID: 30},
			{Base: domain.Base{ID: 2}, StudentID: Student2ID, GroupID: 30},
			{Base: domain.Base{ID: 3}, StudentID: Student2ID, GroupID: 31},
			{Base: domain.Base{ID: 4}, StudentID: Student3ID, GroupID: 32},
		},
		Plannings: []domain.Planning{
			{Base: domain.Base{ID: 40}, GroupID: 30, SituationID: 20, StartTime: PlanStart, EndTime: PlanEnd},
			{Base: domain.Base{ID: 41}, GroupID: 31, SituationID: 21, StartTime: PlanStart, EndTime: PlanEnd},
			{Base: domain.Base{ID: 42}, GroupID: 32, SituationID: 21, StartTime: PlanStart, EndTime: PlanEnd},
		},
		Roles: []domain.Role{
			{Base: domain.Base{ID: 1}, UserID: Assessor1ID, SituationID: 20, Type: domain.RoleAssessor},
			{Base: domain.Base{ID: 2}, UserID: Assessor2ID, SituationID: 21, Type: domain.RoleAssessor},
		},
	}
	return domain.History{IDNumber: "history2", IsActive: true}, data, domain.UserData{}
}

func grades(firstID, appraisalID int64, criteria []int64) []domain.AppraisalCriterion {
	out := make([]domain.AppraisalCriterion, 0, len(criteria))
	for i, criterionID := range criteria {
		out = append(out, domain.AppraisalCriterion{
			Base:        domain.Base{ID: firstID + int64(i)},
			AppraisalID: appraisalID,
			CriterionID: criterionID,
			Grade:       i + 1,
			Comment:     fmt.Sprintf("Context crit %d", criterionID),
		})
	}
	return out
}

// Seed imports both fixture histories and the users into the store and returns
// the assigned history ids.
func Seed(ctx context.Context, w domain.HistoryWriter) (oldID, newID int64, err error) {
	if err := w.PutUsers(ctx, Users()); err != nil {
		return 0, 0, fmt.Errorf("seed users: %w", err)
	}
	h, data, userData := OldHistory()
	oldHistory, err := w.ImportHistory(ctx, h, data, userData)
	if err != nil {
		return 0, 0, fmt.Errorf("seed old history: %w", err)
	}
	h, data, userData = NewHistory()
	newHistory, err := w.ImportHistory(ctx, h, data, userData)
	if err != nil {
		return 0, 0, fmt.Errorf("seed new history: %w", err)
	}
	return oldHistory.ID, newHistory.ID, nil
}

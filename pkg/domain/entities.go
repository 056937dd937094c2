// Package domain defines the curriculum entities, user generated records and
// persistence contracts shared by the reconciliation engine and its stores.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind identifies the type of record stored in a history snapshot.
type EntityKind string

// Supported entity kinds used for tagging match output and persistence buckets.
const (
	// KindHistory identifies an imported history (snapshot) record.
	KindHistory EntityKind = "history"
	// KindUser identifies a host platform user. Users are not history scoped.
	KindUser EntityKind = "user"
	// KindEvaluationGrid identifies an evaluation grid record.
	KindEvaluationGrid EntityKind = "evaluation_grid"
	// KindCriterion identifies a (possibly nested) evaluation criterion.
	KindCriterion EntityKind = "criterion"
	// KindSituation identifies a clinical situation.
	KindSituation EntityKind = "situation"
	// KindGroup identifies a student cohort.
	KindGroup EntityKind = "group"
	// KindGroupAssignment identifies a student membership in a group.
	KindGroupAssignment EntityKind = "group_assignment"
	// KindPlanning identifies an evaluation plan slot.
	KindPlanning EntityKind = "planning"
	// KindRole identifies a user role on a situation.
	KindRole EntityKind = "role"
	// KindAppraisal identifies an appraisal authored during normal operation.
	KindAppraisal EntityKind = "appraisal"
	// KindAppraisalCriterion identifies a per-criterion grade of an appraisal.
	KindAppraisalCriterion EntityKind = "appraisal_criterion"
	// KindFinalEvaluation identifies a final evaluation record.
	KindFinalEvaluation EntityKind = "final_evaluation"
)

// CurriculumKinds lists the matchable kinds in dependency order.
var CurriculumKinds = []EntityKind{
	KindEvaluationGrid,
	KindCriterion,
	KindSituation,
	KindGroup,
	KindGroupAssignment,
	KindPlanning,
	KindRole,
}

// RoleType enumerates the role a user holds on a situation.
type RoleType int

// Role types as stored by the import pipeline.
const (
	RoleStudent   RoleType = 0
	RoleAppraiser RoleType = 1
	RoleAssessor  RoleType = 2
)

var roleShortNames = map[RoleType]string{
	RoleStudent:   "student",
	RoleAppraiser: "appraiser",
	RoleAssessor:  "assessor",
}

// String returns the short name of the role type.
func (r RoleType) String() string {
	if name, ok := roleShortNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRoleType resolves a short name or numeric value into a RoleType.
func ParseRoleType(raw string) (RoleType, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for rt, name := range roleShortNames {
		if name == raw || fmt.Sprint(int(rt)) == raw {
			return rt, nil
		}
	}
	return 0, fmt.Errorf("unknown role type %q", raw)
}

// Entity is implemented by every history scoped record.
type Entity interface {
	EntityID() int64
	EntityKind() EntityKind
}

// Base contains the fields common to all history scoped records. IDs are local
// to one history and are never comparable across histories.
type Base struct {
	ID        int64 `json:"id"`
	HistoryID int64 `json:"historyid"`
}

// EntityID returns the history-local identifier.
func (b Base) EntityID() int64 { return b.ID }

// History is one complete import of the curriculum dataset.
type History struct {
	ID        int64     `json:"id"`
	IDNumber  string    `json:"idnumber"`
	Comments  string    `json:"comments"`
	IsActive  bool      `json:"isactive"`
	CreatedAt time.Time `json:"timecreated"`
}

// User is a host platform account. Users are shared by all histories.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Identity returns the external identity used for cross-history matching.
func (u User) Identity() string {
	if name := strings.ToLower(strings.TrimSpace(u.Username)); name != "" {
		return name
	}
	return strings.ToLower(strings.TrimSpace(u.Email))
}

// EvaluationGrid is a named container of criteria.
type EvaluationGrid struct {
	Base
	Name     string `json:"name"`
	IDNumber string `json:"idnumber"`
}

// EntityKind implements Entity.
func (EvaluationGrid) EntityKind() EntityKind { return KindEvaluationGrid }

// Criterion is a node of the criteria forest of a grid. ParentID is zero for roots.
type Criterion struct {
	Base
	Label      string `json:"label"`
	IDNumber   string `json:"idnumber"`
	Sort       int    `json:"sort"`
	ParentID   int64  `json:"parentid"`
	EvalGridID int64  `json:"evalgridid"`
}

// EntityKind implements Entity.
func (Criterion) EntityKind() EntityKind { return KindCriterion }

// Situation is a clinical or teaching situation evaluated with a grid.
type Situation struct {
	Base
	Title             string `json:"title"`
	Description       string `json:"description"`
	DescriptionFormat int    `json:"descriptionformat"`
	IDNumber          string `json:"idnumber"`
	ExpectedEvalsNb   int    `json:"expectedevalsnb"`
	EvalGridID        int64  `json:"evalgridid"`
}

// EntityKind implements Entity.
func (Situation) EntityKind() EntityKind { return KindSituation }

// Group is a named cohort of students.
type Group struct {
	Base
	Name string `json:"name"`
}

// EntityKind implements Entity.
func (Group) EntityKind() EntityKind { return KindGroup }

// GroupAssignment records the membership of a student in a group.
type GroupAssignment struct {
	Base
	StudentID int64 `json:"studentid"`
	GroupID   int64 `json:"groupid"`
}

// EntityKind implements Entity.
func (GroupAssignment) EntityKind() EntityKind { return KindGroupAssignment }

// Planning is a scheduled (group, situation, time window) evaluation slot.
// Times are Unix seconds exactly as written by the import pipeline.
type Planning struct {
	Base
	GroupID     int64 `json:"groupid"`
	SituationID int64 `json:"clsituationid"`
	StartTime   int64 `json:"starttime"`
	EndTime     int64 `json:"endtime"`
}

// EntityKind implements Entity.
func (Planning) EntityKind() EntityKind { return KindPlanning }

// Role assigns a user to a situation with a role type.
type Role struct {
	Base
	UserID      int64    `json:"userid"`
	SituationID int64    `json:"clsituationid"`
	Type        RoleType `json:"type"`
}

// EntityKind implements Entity.
func (Role) EntityKind() EntityKind { return KindRole }

// Appraisal is a user authored assessment tied to a planning entry.
type Appraisal struct {
	Base
	StudentID     int64  `json:"studentid"`
	AppraiserID   int64  `json:"appraiserid"`
	EvalPlanID    int64  `json:"evalplanid"`
	Context       string `json:"context"`
	ContextFormat int    `json:"contextformat"`
	Comment       string `json:"comment"`
	CommentFormat int    `json:"commentformat"`
	TimeCreated   int64  `json:"timecreated"`
	TimeModified  int64  `json:"timemodified"`
}

// EntityKind implements Entity.
func (Appraisal) EntityKind() EntityKind { return KindAppraisal }

// AppraisalCriterion is the grade given for one criterion within an appraisal.
type AppraisalCriterion struct {
	Base
	AppraisalID   int64  `json:"appraisalid"`
	CriterionID   int64  `json:"criterionid"`
	Grade         int    `json:"grade"`
	Comment       string `json:"comment"`
	CommentFormat int    `json:"commentformat"`
}

// EntityKind implements Entity.
func (AppraisalCriterion) EntityKind() EntityKind { return KindAppraisalCriterion }

// FinalEvaluation is the assessor's final grade for a student on a planning entry.
type FinalEvaluation struct {
	Base
	StudentID     int64  `json:"studentid"`
	AssessorID    int64  `json:"assessorid"`
	EvalPlanID    int64  `json:"evalplanid"`
	Grade         int    `json:"grade"`
	Comment       string `json:"comment"`
	CommentFormat int    `json:"commentformat"`
	TimeCreated   int64  `json:"timecreated"`
	TimeModified  int64  `json:"timemodified"`
}

// EntityKind implements Entity.
func (FinalEvaluation) EntityKind() EntityKind { return KindFinalEvaluation }

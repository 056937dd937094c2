package match

import (
	"cveteval/pkg/domain"
)

// GridMatcher matches evaluation grids by idnumber.
type GridMatcher struct{}

// Kind implements Matcher.
func (GridMatcher) Kind() domain.EntityKind { return domain.KindEvaluationGrid }

// DependsOn implements Matcher.
func (GridMatcher) DependsOn() []domain.EntityKind { return nil }

// Match implements Matcher.
func (GridMatcher) Match(in Input, _ Resolved) (*Result, error) {
	key := func(g domain.EvaluationGrid) (string, bool) { return g.IDNumber, g.IDNumber != "" }
	k := keyMatch[domain.EvaluationGrid]{kind: domain.KindEvaluationGrid, oldKey: key, newKey: key}
	return k.match(in.Old.Data.Grids, in.New.Data.Grids, nil)
}

// SituationMatcher matches situations by idnumber. Both sides must use grids
// that are matched to each other.
type SituationMatcher struct{}

// Kind implements Matcher.
func (SituationMatcher) Kind() domain.EntityKind { return domain.KindSituation }

// DependsOn implements Matcher.
func (SituationMatcher) DependsOn() []domain.EntityKind {
	return []domain.EntityKind{domain.KindEvaluationGrid}
}

// Match implements Matcher.
func (m SituationMatcher) Match(in Input, resolved Resolved) (*Result, error) {
	if err := resolved.require(m.Kind(), m.DependsOn()...); err != nil {
		return nil, err
	}
	grids := resolved[domain.KindEvaluationGrid]
	k := keyMatch[domain.Situation]{
		kind:   domain.KindSituation,
		oldKey: func(s domain.Situation) (string, bool) {
			return s.IDNumber, s.IDNumber != "" && matchedRef(grids, s.EvalGridID)
		},
		newKey: func(s domain.Situation) (string, bool) {
			_, gridOK := in.New.Grid(s.EvalGridID)
			return s.IDNumber, s.IDNumber != "" && gridOK
		},
		confirm: func(o, n domain.Situation) bool { return counterpart(grids, o.EvalGridID, n.EvalGridID) },
	}
	return k.match(in.Old.Data.Situations, in.New.Data.Situations, nil)
}

// GroupMatcher matches groups by name.
type GroupMatcher struct{}

// Kind implements Matcher.
func (GroupMatcher) Kind() domain.EntityKind { return domain.KindGroup }

// DependsOn implements Matcher.
func (GroupMatcher) DependsOn() []domain.EntityKind { return nil }

// Match implements Matcher.
func (GroupMatcher) Match(in Input, _ Resolved) (*Result, error) {
	key := func(g domain.Group) (string, bool) { return g.Name, g.Name != "" }
	k := keyMatch[domain.Group]{kind: domain.KindGroup, oldKey: key, newKey: key}
	return k.match(in.Old.Data.Groups, in.New.Data.Groups, nil)
}

// GroupAssignmentMatcher matches memberships by (student identity, group name).
type GroupAssignmentMatcher struct{}

// Kind implements Matcher.
func (GroupAssignmentMatcher) Kind() domain.EntityKind { return domain.KindGroupAssignment }

// DependsOn implements Matcher.
func (GroupAssignmentMatcher) DependsOn() []domain.EntityKind {
	return []domain.EntityKind{domain.KindGroup}
}

// Match implements Matcher.
func (m GroupAssignmentMatcher) Match(in Input, resolved Resolved) (*Result, error) {
	if err := resolved.require(m.Kind(), m.DependsOn()...); err != nil {
		return nil, err
	}
	groups := resolved[domain.KindGroup]
	k := keyMatch[domain.GroupAssignment]{
		kind:   domain.KindGroupAssignment,
		oldKey: func(a domain.GroupAssignment) (string, bool) {
			student, userOK := in.Old.identity(a.StudentID)
			group, _ := in.Old.groupKey(a.GroupID)
			return joinKey(student, group), userOK && matchedRef(groups, a.GroupID)
		},
		newKey: func(a domain.GroupAssignment) (string, bool) {
			student, userOK := in.New.identity(a.StudentID)
			group, groupOK := in.New.groupKey(a.GroupID)
			return joinKey(student, group), userOK && groupOK
		},
		confirm: func(o, n domain.GroupAssignment) bool { return counterpart(groups, o.GroupID, n.GroupID) },
	}
	return k.match(in.Old.Data.GroupAssignments, in.New.Data.GroupAssignments, nil)
}

// PlanningMatcher matches evaluation plans on (group name, situation idnumber,
// start, end). Group and situation must be matched to the new entry's own
// group and situation; times compare as exact integers.
type PlanningMatcher struct{}

// Kind implements Matcher.
func (PlanningMatcher) Kind() domain.EntityKind { return domain.KindPlanning }

// DependsOn implements Matcher.
func (PlanningMatcher) DependsOn() []domain.EntityKind {
	return []domain.EntityKind{domain.KindGroup, domain.KindSituation}
}

// Match implements Matcher.
func (m PlanningMatcher) Match(in Input, resolved Resolved) (*Result, error) {
	if err := resolved.require(m.Kind(), m.DependsOn()...); err != nil {
		return nil, err
	}
	groups := resolved[domain.KindGroup]
	situations := resolved[domain.KindSituation]
	key := func(idx *Index, p domain.Planning) (string, bool) {
		group, groupOK := idx.groupKey(p.GroupID)
		situation, situationOK := idx.situationKey(p.SituationID)
		return joinKey(group, situation, formatTime(p.StartTime), formatTime(p.EndTime)), groupOK && situationOK
	}
	k := keyMatch[domain.Planning]{
		kind:   domain.KindPlanning,
		oldKey: func(p domain.Planning) (string, bool) {
			rendered, ok := key(in.Old, p)
			return rendered, ok && matchedRef(groups, p.GroupID) && matchedRef(situations, p.SituationID)
		},
		newKey:  func(p domain.Planning) (string, bool) { return key(in.New, p) },
		confirm: func(o, n domain.Planning) bool {
			return counterpart(groups, o.GroupID, n.GroupID) &&
				counterpart(situations, o.SituationID, n.SituationID) &&
				o.StartTime == n.StartTime && o.EndTime == n.EndTime
		},
	}
	return k.match(in.Old.Data.Plannings, in.New.Data.Plannings, nil)
}

// RoleMatcher matches role assignments on (user identity, situation idnumber, role type).
type RoleMatcher struct{}

// Kind implements Matcher.
func (RoleMatcher) Kind() domain.EntityKind { return domain.KindRole }

// DependsOn implements Matcher.
func (RoleMatcher) DependsOn() []domain.EntityKind {
	return []domain.EntityKind{domain.KindSituation}
}

// Match implements Matcher.
func (m RoleMatcher) Match(in Input, resolved Resolved) (*Result, error) {
	if err := resolved.require(m.Kind(), m.DependsOn()...); err != nil {
		return nil, err
	}
	situations := resolved[domain.KindSituation]
	key := func(idx *Index, r domain.Role) (string, bool) {
		user, userOK := idx.identity(r.UserID)
		situation, situationOK := idx.situationKey(r.SituationID)
		return joinKey(user, situation, r.Type.String()), userOK && situationOK
	}
	k := keyMatch[domain.Role]{
		kind:   domain.KindRole,
		oldKey: func(r domain.Role) (string, bool) {
			rendered, ok := key(in.Old, r)
			return rendered, ok && matchedRef(situations, r.SituationID)
		},
		newKey:  func(r domain.Role) (string, bool) { return key(in.New, r) },
		confirm: func(o, n domain.Role) bool { return counterpart(situations, o.SituationID, n.SituationID) },
	}
	return k.match(in.Old.Data.Roles, in.New.Data.Roles, nil)
}

package match

import (
	"fmt"
	"strings"
	"time"

	"cveteval/pkg/domain"
)

const keySep = "|"

func joinKey(parts ...string) string { return strings.Join(parts, keySep) }

// dangling renders a reference that does not resolve inside its own history.
func dangling(id int64) string { return fmt.Sprintf("#%d", id) }

// danglingParent stands for any unresolved criterion parent. Local ids are not
// comparable across histories, so all dangling parents compare equal.
const danglingParent = "#"

// formatTime renders Unix seconds without any rounding so that key equality is
// integer equality and lexical order is chronological.
func formatTime(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func (i *Index) identity(userID int64) (string, bool) {
	u, ok := i.User(userID)
	if !ok || u.Identity() == "" {
		return dangling(userID), false
	}
	return u.Identity(), true
}

func (i *Index) gridKey(id int64) (string, bool) {
	g, ok := i.Grid(id)
	if !ok {
		return dangling(id), false
	}
	return g.IDNumber, true
}

func (i *Index) situationKey(id int64) (string, bool) {
	s, ok := i.Situation(id)
	if !ok {
		return dangling(id), false
	}
	return s.IDNumber, true
}

func (i *Index) groupKey(id int64) (string, bool) {
	g, ok := i.Group(id)
	if !ok {
		return dangling(id), false
	}
	return g.Name, true
}

// parentKey returns the idnumber of the direct parent, empty for roots and
// danglingParent when the parent does not resolve.
func (i *Index) parentKey(c domain.Criterion) string {
	if c.ParentID == 0 {
		return ""
	}
	parent, ok := i.Criterion(c.ParentID)
	if !ok {
		return danglingParent
	}
	return parent.IDNumber
}

// counterpart reports whether the old reference id is matched to the new one.
func counterpart(r *Result, oldID, newID int64) bool {
	id, ok := r.NewIDFor(oldID)
	return ok && id == newID
}

func matchedRef(r *Result, oldID int64) bool {
	_, ok := r.NewIDFor(oldID)
	return ok
}

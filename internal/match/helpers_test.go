package match

import (
	"context"
	"testing"

	"cveteval/internal/infra/persistence/memory"
	"cveteval/pkg/domain"
	"cveteval/testutil"
)

func seededMatcher(t *testing.T, opts ...Option) *DataModelMatcher {
	t.Helper()
	store := memory.NewStore()
	oldID, newID, err := testutil.Seed(context.Background(), store)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewDataModelMatcher(store, oldID, newID, opts...)
}

func runSeeded(t *testing.T) *DataModelMatcher {
	t.Helper()
	m := seededMatcher(t)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	return m
}

// storeWith imports two ad-hoc datasets sharing the fixture users.
func storeWith(t *testing.T, oldData, newData domain.Dataset) (*memory.Store, int64, int64) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.PutUsers(ctx, testutil.Users()); err != nil {
		t.Fatalf("put users: %v", err)
	}
	oldHistory, err := store.ImportHistory(ctx, domain.History{IDNumber: "old"}, oldData, domain.UserData{})
	if err != nil {
		t.Fatalf("import old: %v", err)
	}
	newHistory, err := store.ImportHistory(ctx, domain.History{IDNumber: "new"}, newData, domain.UserData{})
	if err != nil {
		t.Fatalf("import new: %v", err)
	}
	return store, oldHistory.ID, newHistory.ID
}

func indexes(oldData, newData domain.Dataset) Input {
	users := testutil.Users()
	return Input{Old: NewIndex(oldData, users), New: NewIndex(newData, users)}
}

func keysOf(pairs []Pair, kind domain.EntityKind) []string {
	var out []string
	for _, p := range pairs {
		if p.Kind == kind {
			out = append(out, p.Key)
		}
	}
	return out
}

func grid(id int64, idnumber string) domain.EvaluationGrid {
	return domain.EvaluationGrid{Base: domain.Base{ID: id}, IDNumber: idnumber}
}

func situation(id int64, idnumber string, gridID int64) domain.Situation {
	return domain.Situation{Base: domain.Base{ID: id}, IDNumber: idnumber, EvalGridID: gridID}
}

func group(id int64, name string) domain.Group {
	return domain.Group{Base: domain.Base{ID: id}, Name: name}
}

func planning(id, groupID, situationID, start, end int64) domain.Planning {
	return domain.Planning{Base: domain.Base{ID: id}, GroupID: groupID, SituationID: situationID, StartTime: start, EndTime: end}
}

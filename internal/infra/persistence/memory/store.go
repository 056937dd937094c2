// Package memory provides an in-memory implementation of the history snapshot
// store used for tests, ephemeral environments and as the working set of the
// SQL-backed stores.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"cveteval/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// History aliases domain.History.
	History = domain.History
	// User aliases domain.User.
	User = domain.User
	// Dataset aliases domain.Dataset.
	Dataset = domain.Dataset
	// UserData aliases domain.UserData.
	UserData = domain.UserData
)

type historyState struct {
	history  History
	dataset  Dataset
	userData UserData
}

type memoryState struct {
	histories map[int64]historyState
	users     map[int64]User
}

// HistorySnapshot captures one history with its collections.
type HistorySnapshot struct {
	History  History  `json:"history"`
	Dataset  Dataset  `json:"dataset"`
	UserData UserData `json:"userdata"`
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Histories []HistorySnapshot `json:"histories"`
	Users     []User            `json:"users"`
}

func newMemoryState() memoryState {
	return memoryState{
		histories: make(map[int64]historyState),
		users:     make(map[int64]User),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Histories: make([]HistorySnapshot, 0, len(state.histories)),
		Users:     make([]User, 0, len(state.users)),
	}
	for _, h := range state.histories {
		s.Histories = append(s.Histories, HistorySnapshot{
			History:  h.history,
			Dataset:  h.dataset.Clone(),
			UserData: h.userData.Clone(),
		})
	}
	for _, u := range state.users {
		s.Users = append(s.Users, u)
	}
	slices.SortFunc(s.Histories, func(a, b HistorySnapshot) int { return cmp.Compare(a.History.ID, b.History.ID) })
	slices.SortFunc(s.Users, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for _, h := range migrateSnapshot(s).Histories {
		state.histories[h.History.ID] = historyState{
			history:  h.History,
			dataset:  h.Dataset.Clone(),
			userData: h.UserData.Clone(),
		}
	}
	for _, u := range s.Users {
		state.users[u.ID] = u
	}
	return state
}

// migrateSnapshot normalizes persisted snapshots: entities are re-stamped with
// their owning history and histories without an id are dropped.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	out := Snapshot{Users: snapshot.Users}
	for _, h := range snapshot.Histories {
		if h.History.ID <= 0 {
			continue
		}
		h.Dataset = h.Dataset.Bind(h.History.ID)
		h.UserData = h.UserData.Bind(h.History.ID)
		out.Histories = append(out.Histories, h)
	}
	return out
}

// Store is an in-memory history store. All reads return deep copies.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	now   func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newMemoryState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ImportState replaces the store content with the snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// ExportState returns a deep copy of the store content.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// Histories lists histories ordered by id.
func (s *Store) Histories(_ context.Context) ([]History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]History, 0, len(s.state.histories))
	for _, h := range s.state.histories {
		out = append(out, h.history)
	}
	slices.SortFunc(out, func(a, b History) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// History returns a single history.
func (s *Store) History(_ context.Context, id int64) (History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.state.histories[id]
	if !ok {
		return History{}, domain.ErrNotFound{Entity: domain.KindHistory, ID: id}
	}
	return h.history, nil
}

// Dataset returns the curriculum collections of a history.
func (s *Store) Dataset(_ context.Context, historyID int64) (Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.state.histories[historyID]
	if !ok {
		return Dataset{}, domain.ErrNotFound{Entity: domain.KindHistory, ID: historyID}
	}
	return h.dataset.Clone(), nil
}

// UserData returns the user generated collections of a history.
func (s *Store) UserData(_ context.Context, historyID int64) (UserData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.state.histories[historyID]
	if !ok {
		return UserData{}, domain.ErrNotFound{Entity: domain.KindHistory, ID: historyID}
	}
	return h.userData.Clone(), nil
}

// Users lists host users ordered by id.
func (s *Store) Users(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.state.users))
	for _, u := range s.state.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// ImportHistory stores a new history. A zero id is replaced by the next free id.
func (s *Store) ImportHistory(_ context.Context, history History, data Dataset, userData UserData) (History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if history.ID == 0 {
		for id := range s.state.histories {
			if id > history.ID {
				history.ID = id
			}
		}
		history.ID++
	}
	if _, exists := s.state.histories[history.ID]; exists {
		return History{}, domain.ErrConflict{Entity: domain.KindHistory, ID: history.ID}
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = s.now()
	}
	s.state.histories[history.ID] = historyState{
		history:  history,
		dataset:  data.Bind(history.ID),
		userData: userData.Bind(history.ID),
	}
	return history, nil
}

// AppendUserData adds migrated records to a history. Ids of the supplied
// records are ignored; grades are linked to the id given to their appraisal.
func (s *Store) AppendUserData(_ context.Context, historyID int64, appraisals []domain.AppraisalRecord, finals []domain.FinalEvaluation) (UserData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.state.histories[historyID]
	if !ok {
		return UserData{}, domain.ErrNotFound{Entity: domain.KindHistory, ID: historyID}
	}
	data := h.userData.Clone()
	nextAppraisal := domain.MaxID(data.Appraisals)
	nextGrade := domain.MaxID(data.AppraisalCriteria)
	nextFinal := domain.MaxID(data.FinalEvaluations)
	for _, rec := range appraisals {
		nextAppraisal++
		appraisal := rec.Appraisal
		appraisal.ID = nextAppraisal
		appraisal.HistoryID = historyID
		data.Appraisals = append(data.Appraisals, appraisal)
		for _, grade := range rec.Criteria {
			nextGrade++
			grade.ID = nextGrade
			grade.HistoryID = historyID
			grade.AppraisalID = appraisal.ID
			data.AppraisalCriteria = append(data.AppraisalCriteria, grade)
		}
	}
	for _, final := range finals {
		nextFinal++
		final.ID = nextFinal
		final.HistoryID = historyID
		data.FinalEvaluations = append(data.FinalEvaluations, final)
	}
	h.userData = data
	s.state.histories[historyID] = h
	return data.Clone(), nil
}

// PutUsers inserts or replaces users by id.
func (s *Store) PutUsers(_ context.Context, users []User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.state.users[u.ID] = u
	}
	return nil
}

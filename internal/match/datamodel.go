package match

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"cveteval/pkg/domain"
)

// ErrSameHistory is returned when a history is reconciled with itself.
var ErrSameHistory = errors.New("match: old and new history are the same")

type classified struct {
	result    *Result
	unmatched []Unmatched
	orphaned  []Orphan
}

// DataModelMatcher reconciles two histories read from a snapshot store. Call
// Run once; the list accessors then return copies of the classified output.
type DataModelMatcher struct {
	reader       domain.SnapshotReader
	oldHistoryID int64
	newHistoryID int64
	matchers     []Matcher

	mu     sync.RWMutex
	ran    bool
	kinds  []domain.EntityKind
	byKind map[domain.EntityKind]classified
	origin domain.UserData
}

// Option customises a DataModelMatcher.
type Option func(*DataModelMatcher)

// WithMatchers replaces the default matcher set.
func WithMatchers(matchers ...Matcher) Option {
	return func(m *DataModelMatcher) {
		m.matchers = slices.Clone(matchers)
	}
}

// NewDataModelMatcher prepares the reconciliation of two histories.
func NewDataModelMatcher(reader domain.SnapshotReader, oldHistoryID, newHistoryID int64, opts ...Option) *DataModelMatcher {
	m := &DataModelMatcher{
		reader:       reader,
		oldHistoryID: oldHistoryID,
		newHistoryID: newHistoryID,
		matchers:     DefaultMatchers(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OldHistoryID returns the history user data is migrated from.
func (m *DataModelMatcher) OldHistoryID() int64 { return m.oldHistoryID }

// NewHistoryID returns the history user data is migrated to.
func (m *DataModelMatcher) NewHistoryID() int64 { return m.newHistoryID }

// Run reads both histories, runs every matcher in dependency order and
// classifies the output. Matchers of one dependency stage run concurrently.
func (m *DataModelMatcher) Run(ctx context.Context) error {
	if m.oldHistoryID == m.newHistoryID {
		return fmt.Errorf("%w: %d", ErrSameHistory, m.oldHistoryID)
	}
	oldData, err := m.reader.Dataset(ctx, m.oldHistoryID)
	if err != nil {
		return fmt.Errorf("read old history: %w", err)
	}
	newData, err := m.reader.Dataset(ctx, m.newHistoryID)
	if err != nil {
		return fmt.Errorf("read new history: %w", err)
	}
	users, err := m.reader.Users(ctx)
	if err != nil {
		return fmt.Errorf("read users: %w", err)
	}
	origin, err := m.reader.UserData(ctx, m.oldHistoryID)
	if err != nil {
		return fmt.Errorf("read old user data: %w", err)
	}

	in := Input{Old: NewIndex(oldData, users), New: NewIndex(newData, users)}
	resolved, err := runStaged(ctx, in, m.matchers)
	if err != nil {
		return err
	}

	c := newClassifier(in, resolved)
	byKind := make(map[domain.EntityKind]classified, len(resolved))
	var kinds []domain.EntityKind
	for _, kind := range domain.CurriculumKinds {
		res, ok := resolved[kind]
		if !ok {
			continue
		}
		unmatched, orphaned := c.split(res)
		byKind[kind] = classified{result: res, unmatched: unmatched, orphaned: orphaned}
		kinds = append(kinds, kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = true
	m.kinds = kinds
	m.byKind = byKind
	m.origin = origin
	return nil
}

// runStaged schedules matchers by dependency depth. A matcher whose
// dependencies are absent from the set fails with ErrUnresolvedDependency.
func runStaged(ctx context.Context, in Input, matchers []Matcher) (Resolved, error) {
	resolved := make(Resolved, len(matchers))
	pending := slices.Clone(matchers)
	for len(pending) > 0 {
		var stage, rest []Matcher
		for _, mt := range pending {
			if resolved.require(mt.Kind(), mt.DependsOn()...) == nil {
				stage = append(stage, mt)
			} else {
				rest = append(rest, mt)
			}
		}
		if len(stage) == 0 {
			return nil, resolved.require(rest[0].Kind(), rest[0].DependsOn()...)
		}
		results := make([]*Result, len(stage))
		g, gctx := errgroup.WithContext(ctx)
		for i, mt := range stage {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := mt.Match(in, resolved)
				if err != nil {
					return fmt.Errorf("match %s: %w", mt.Kind(), err)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i, mt := range stage {
			resolved[mt.Kind()] = results[i]
		}
		pending = rest
	}
	return resolved, nil
}

// Kinds returns the matched kinds in dependency order.
func (m *DataModelMatcher) Kinds() []domain.EntityKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.kinds)
}

// Result returns the raw matcher output of one kind.
func (m *DataModelMatcher) Result(kind domain.EntityKind) (*Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byKind[kind]
	return c.result, ok
}

// MatchedEntities lists matched pairs of every kind in dependency order.
func (m *DataModelMatcher) MatchedEntities() []Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Pair
	for _, kind := range m.kinds {
		out = append(out, m.byKind[kind].result.Matched...)
	}
	return out
}

// UnmatchedEntities lists side-tagged entities present in one history only,
// orphans excluded.
func (m *DataModelMatcher) UnmatchedEntities() []Unmatched {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Unmatched
	for _, kind := range m.kinds {
		out = append(out, m.byKind[kind].unmatched...)
	}
	return out
}

// OrphanedEntities lists unmatched entities whose dependency chain is broken.
func (m *DataModelMatcher) OrphanedEntities() []Orphan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Orphan
	for _, kind := range m.kinds {
		out = append(out, m.byKind[kind].orphaned...)
	}
	return out
}

// Summary returns per-kind classification counts.
func (m *DataModelMatcher) Summary() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.kinds))
	for _, kind := range m.kinds {
		c := m.byKind[kind]
		s := Summary{Kind: kind, Matched: len(c.result.Matched)}
		for _, u := range c.unmatched {
			if u.Side == SideOld {
				s.UnmatchedOld++
			} else {
				s.UnmatchedNew++
			}
		}
		for _, o := range c.orphaned {
			if o.Side == SideOld {
				s.OrphanedOld++
			} else {
				s.OrphanedNew++
			}
		}
		out = append(out, s)
	}
	return out
}

// Data packages the classified lists with the old history's user data for
// the migration helpers.
func (m *DataModelMatcher) Data() (*Data, error) {
	m.mu.RLock()
	ran := m.ran
	origin := m.origin.Clone()
	kinds := slices.Clone(m.kinds)
	m.mu.RUnlock()
	if !ran {
		return nil, ErrNotRun
	}
	return &Data{
		OldHistoryID: m.oldHistoryID,
		NewHistoryID: m.newHistoryID,
		Kinds:        kinds,
		Matched:      m.MatchedEntities(),
		Unmatched:    m.UnmatchedEntities(),
		Orphaned:     m.OrphanedEntities(),
		Origin:       origin,
	}, nil
}

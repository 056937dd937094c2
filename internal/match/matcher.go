package match

import (
	"cmp"
	"slices"

	"cveteval/pkg/domain"
)

// Input carries the two indexed histories of a run.
type Input struct {
	Old *Index
	New *Index
}

// Matcher produces the correspondence for one entity kind. Match must not be
// called before every kind listed by DependsOn is present in resolved.
type Matcher interface {
	Kind() domain.EntityKind
	DependsOn() []domain.EntityKind
	Match(in Input, resolved Resolved) (*Result, error)
}

// DefaultMatchers returns the matchers of every curriculum kind in dependency order.
func DefaultMatchers() []Matcher {
	return []Matcher{
		GridMatcher{},
		CriterionMatcher{},
		SituationMatcher{},
		GroupMatcher{},
		GroupAssignmentMatcher{},
		PlanningMatcher{},
		RoleMatcher{},
	}
}

// RunMatchers invokes the matchers sequentially in the given order. A matcher
// listed before one of its dependencies fails with ErrUnresolvedDependency.
func RunMatchers(in Input, matchers ...Matcher) (Resolved, error) {
	resolved := make(Resolved, len(matchers))
	for _, m := range matchers {
		res, err := m.Match(in, resolved)
		if err != nil {
			return nil, err
		}
		resolved[m.Kind()] = res
	}
	return resolved, nil
}

// keyFunc renders the natural key of an entity. The boolean is false when the
// entity cannot take part in matching, typically because a reference it needs
// has no counterpart; the key is still used for ordering and display.
type keyFunc[T domain.Entity] func(T) (string, bool)

type keyMatch[T domain.Entity] struct {
	kind    domain.EntityKind
	oldKey  keyFunc[T]
	newKey  keyFunc[T]
	confirm func(old, new T) bool
}

type keyed[T domain.Entity] struct {
	item T
	key  string
	ok   bool
}

func sortKeyed[T domain.Entity](items []T, key keyFunc[T]) []keyed[T] {
	out := make([]keyed[T], 0, len(items))
	for _, item := range items {
		k, ok := key(item)
		out = append(out, keyed[T]{item: item, key: k, ok: ok})
	}
	slices.SortStableFunc(out, func(a, b keyed[T]) int {
		if c := cmp.Compare(a.key, b.key); c != 0 {
			return c
		}
		return cmp.Compare(a.item.EntityID(), b.item.EntityID())
	})
	return out
}

type pairing[T domain.Entity] struct {
	old    keyed[T]
	new    keyed[T]
	hasOld bool
	hasNew bool
}

// run pairs old and new entities with equal keys. Within one history the
// first entity of a key (lowest id) wins; any duplicate stays unmatched.
func (k keyMatch[T]) run(olds, news []T) []pairing[T] {
	newSorted := sortKeyed(news, k.newKey)
	byKey := make(map[string]int, len(newSorted))
	for i, n := range newSorted {
		if !n.ok {
			continue
		}
		if _, dup := byKey[n.key]; !dup {
			byKey[n.key] = i
		}
	}
	used := make([]bool, len(newSorted))
	var out []pairing[T]
	for _, o := range sortKeyed(olds, k.oldKey) {
		p := pairing[T]{old: o, hasOld: true}
		if i, found := byKey[o.key]; o.ok && found && !used[i] {
			if k.confirm == nil || k.confirm(o.item, newSorted[i].item) {
				used[i] = true
				p.new, p.hasNew = newSorted[i], true
			}
		}
		out = append(out, p)
	}
	for i, n := range newSorted {
		if !used[i] {
			out = append(out, pairing[T]{new: n, hasNew: true})
		}
	}
	return out
}

// match converts pairings into a Result. decorate may attach drift
// information to a matched pair.
func (k keyMatch[T]) match(olds, news []T, decorate func(*Pair, T, T) error) (*Result, error) {
	var (
		matched      []Pair
		unmatchedOld []Unmatched
		unmatchedNew []Unmatched
	)
	for _, p := range k.run(olds, news) {
		switch {
		case p.hasOld && p.hasNew:
			pair := Pair{Kind: k.kind, Key: p.old.key, Old: p.old.item, New: p.new.item}
			if decorate != nil {
				if err := decorate(&pair, p.old.item, p.new.item); err != nil {
					return nil, err
				}
			}
			matched = append(matched, pair)
		case p.hasOld:
			unmatchedOld = append(unmatchedOld, Unmatched{Kind: k.kind, Side: SideOld, Key: p.old.key, Entity: p.old.item})
		default:
			unmatchedNew = append(unmatchedNew, Unmatched{Kind: k.kind, Side: SideNew, Key: p.new.key, Entity: p.new.item})
		}
	}
	return newResult(k.kind, matched, unmatchedOld, unmatchedNew), nil
}

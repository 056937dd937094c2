// Package migration rewrites the user data of an old history so that it
// references the entities of a new history, using the output of a data model
// matcher run. It never persists anything.
package migration

import (
	"fmt"
	"slices"
	"strings"

	"cveteval/internal/match"
)

// Context selects which classification lists feed the old to new id maps.
type Context string

// Supported contexts.
const (
	ContextMatched   Context = "matchedentities"
	ContextUnmatched Context = "unmatchedentities"
	ContextOrphaned  Context = "orphanedentities"
)

// AllContexts selects every classification list.
var AllContexts = []Context{ContextMatched, ContextUnmatched, ContextOrphaned}

var contextClasses = map[Context]match.Class{
	ContextMatched:   match.ClassMatched,
	ContextUnmatched: match.ClassUnmatched,
	ContextOrphaned:  match.ClassOrphaned,
}

// ParseContexts accepts context names ("matchedentities"), their short form
// ("matched") or "all". An empty input selects all contexts.
func ParseContexts(raw []string) ([]Context, error) {
	if len(raw) == 0 {
		return slices.Clone(AllContexts), nil
	}
	var out []Context
	for _, r := range raw {
		name := strings.ToLower(strings.TrimSpace(r))
		if name == "all" {
			return slices.Clone(AllContexts), nil
		}
		if !strings.HasSuffix(name, "entities") {
			name += "entities"
		}
		ctx := Context(name)
		if _, ok := contextClasses[ctx]; !ok {
			return nil, fmt.Errorf("unknown migration context %q", r)
		}
		if !slices.Contains(out, ctx) {
			out = append(out, ctx)
		}
	}
	return out, nil
}

func classes(contexts []Context) []match.Class {
	out := make([]match.Class, 0, len(contexts))
	for _, c := range contexts {
		if class, ok := contextClasses[c]; ok {
			out = append(out, class)
		}
	}
	return out
}

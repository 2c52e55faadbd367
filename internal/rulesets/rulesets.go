// Package rulesets provides the built-in game modes and the registry the
// importer uses to resolve a beatmap's ruleset id to a rating function.
package rulesets

import (
	"math"

	"beatlib/internal/library"
)

// Registry resolves ruleset ids. Unknown ids resolve to nil; callers decide
// whether that is an error.
type Registry struct {
	byID map[int]library.Ruleset
}

// NewRegistry creates a registry holding the built-in rulesets.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[int]library.Ruleset)}
	for _, rs := range []library.Ruleset{
		standard{}, taiko{}, catchRuleset{}, mania{},
	} {
		r.byID[rs.ID()] = rs
	}
	return r
}

// Lookup returns the ruleset for an id, or nil when unknown.
func (r *Registry) Lookup(id int) library.Ruleset {
	return r.byID[id]
}

// Register adds or replaces a ruleset. Intended for tests and future
// out-of-tree modes.
func (r *Registry) Register(rs library.Ruleset) {
	r.byID[rs.ID()] = rs
}

// baseDifficulty is the shared rating model: overall difficulty anchors the
// rating, object count contributes logarithmically so dense maps rate higher
// without unbounded growth.
func baseDifficulty(d *library.Descriptor, weight float64) float64 {
	if d.ObjectCount == 0 {
		return 0
	}
	density := math.Log1p(float64(d.ObjectCount)) / math.Log(10)
	rating := d.OverallDifficulty*0.45 + density*weight
	return math.Round(rating*100) / 100
}

type standard struct{}

func (standard) ID() int      { return 0 }
func (standard) Name() string { return "standard" }
func (standard) Difficulty(d *library.Descriptor) float64 {
	return baseDifficulty(d, 0.85)
}

type taiko struct{}

func (taiko) ID() int      { return 1 }
func (taiko) Name() string { return "taiko" }
func (taiko) Difficulty(d *library.Descriptor) float64 {
	return baseDifficulty(d, 0.95)
}

type catchRuleset struct{}

func (catchRuleset) ID() int      { return 2 }
func (catchRuleset) Name() string { return "catch" }
func (catchRuleset) Difficulty(d *library.Descriptor) float64 {
	return baseDifficulty(d, 0.75)
}

type mania struct{}

func (mania) ID() int      { return 3 }
func (mania) Name() string { return "mania" }
func (mania) Difficulty(d *library.Descriptor) float64 {
	return baseDifficulty(d, 1.0)
}

// Compile-time check that Registry implements library.RulesetStore
var _ library.RulesetStore = (*Registry)(nil)

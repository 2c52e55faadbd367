package library

// Ruleset describes one playable game mode and rates beatmaps for it.
type Ruleset interface {
	ID() int
	Name() string

	// Difficulty computes a star rating from a decoded descriptor.
	Difficulty(d *Descriptor) float64
}

// RulesetStore resolves ruleset ids to descriptors. Lookup returns nil for an
// unknown id; the importer treats that as "no rating", never as a failure.
type RulesetStore interface {
	Lookup(id int) Ruleset
}

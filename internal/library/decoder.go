package library

import (
	"io"

	"beatlib/internal/model"
)

// Descriptor is the decoded form of one beatmap entry: the metadata block plus
// the difficulty-relevant numbers a ruleset needs to rate the beatmap.
type Descriptor struct {
	Metadata          model.Metadata
	Version           string // Difficulty name within the set
	RulesetID         int
	OnlineSetID       *int64
	ObjectCount       int
	OverallDifficulty float64
	Events            []string // Storyboard/event lines, merged with overlay files
}

// Decoder parses one entry's bytes into a structured descriptor. It must
// tolerate being handed either a fresh stream or a buffered copy.
type Decoder interface {
	Decode(r io.Reader) (*Descriptor, error)
}

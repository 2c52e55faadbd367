package model

import (
	"strings"
	"time"
)

// Metadata holds the descriptive fields shared by a beatmap set and,
// optionally, overridden per beatmap.
type Metadata struct {
	Title          string
	Artist         string
	Creator        string
	AudioFile      string // Logical filename of the audio track within the set
	BackgroundFile string // Logical filename of the background image, empty if none
	Tags           string
	PreviewTime    int // Milliseconds into the track, -1 if unset
}

// Equal reports whether two metadata records carry the same values.
func (m Metadata) Equal(other Metadata) bool {
	return m == other
}

// FileHandle identifies a blob in the content file store.
// The Hash is the hex SHA-256 checksum of the blob's bytes; StoragePath is the
// store-relative location the blob was written to.
type FileHandle struct {
	Hash        string
	StoragePath string
}

// FileRecord maps a logical filename within a set to a stored blob.
// The blob itself is owned by the file store and may be shared by any number
// of sets whose records point at the same hash.
type FileRecord struct {
	ID       int64 // Catalog row id, 0 until persisted
	Filename string
	File     FileHandle
}

// BeatmapSet is one imported archive: an ordered group of beatmaps plus every
// file the archive contained. ID is assigned by the catalog on insert; a set
// with ID 0 has not been persisted yet.
type BeatmapSet struct {
	ID             int64
	Hash           string // Hex SHA-256 over concatenated beatmap entry bytes, filename order
	OnlineID       *int64
	Metadata       Metadata
	Beatmaps       []*Beatmap
	Files          []FileRecord
	Protected      bool // Exempt from bulk delete and file dereferencing
	DeletePending  bool
	StoryboardFile string // Entry name of the storyboard overlay, empty if none
	CreatedAt      time.Time
}

// FileByName returns the file record for a logical filename, or nil.
// Lookup is case-insensitive, matching how archives name entries.
func (s *BeatmapSet) FileByName(name string) *FileRecord {
	for i := range s.Files {
		if strings.EqualFold(s.Files[i].Filename, name) {
			return &s.Files[i]
		}
	}
	return nil
}

// Beatmap is one playable item within a set. SetID is a weak back-reference:
// navigation to the owning set goes through a catalog lookup, never through an
// embedded pointer.
type Beatmap struct {
	ID         int64
	SetID      int64
	Path       string // Entry path within the original archive
	Hash       string // Hex SHA-256 of exactly this entry's bytes
	Metadata   *Metadata // nil means inherit the set's metadata
	RulesetID  int
	StarRating float64
}

// EffectiveMetadata returns the beatmap's own metadata when present, falling
// back to the owning set's.
func (b *Beatmap) EffectiveMetadata(set *BeatmapSet) Metadata {
	if b.Metadata != nil {
		return *b.Metadata
	}
	return set.Metadata
}

package library

import (
	"time"

	"beatlib/internal/model"
)

// Operation is one recorded mutating library operation, for history listings.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Operation  string
	Parameters string
	Status     string
}

// Catalog provides transactional storage of beatmap sets and their beatmaps.
// Every method is serialized against every other method by the implementation,
// independently of the library's import lock, so read-only queries are never
// blocked for the whole duration of an import.
//
// Single-row lookups return (nil, nil) when no row matches.
type Catalog interface {
	// AddSet persists a newly assembled set together with its beatmaps and
	// file records in a single transaction, assigning catalog ids as it goes.
	// It fails without writing anything if set.ID != 0.
	AddSet(set *model.BeatmapSet) error

	// FindSetByHash returns the non-purged set with the given content hash,
	// whether or not it is soft-deleted. The result is populated.
	FindSetByHash(hash string) (*model.BeatmapSet, error)

	// FindSetByID returns the set with the given id, populated.
	FindSetByID(id int64) (*model.BeatmapSet, error)

	// DeleteSet marks the set delete-pending. Returns false if it already was.
	DeleteSet(set *model.BeatmapSet) (bool, error)

	// UndeleteSet clears the delete-pending mark. Returns false if it was not set.
	UndeleteSet(set *model.BeatmapSet) (bool, error)

	// PurgeSet removes the set and its beatmaps and file records outright.
	// The underlying blobs are untouched; the caller dereferences them.
	PurgeSet(set *model.BeatmapSet) error

	// PopulateSet loads the set's beatmaps and file records. Idempotent.
	PopulateSet(set *model.BeatmapSet) error

	// PopulateBeatmap resolves the beatmap's weak back-reference into a fully
	// populated owning set. Idempotent.
	PopulateBeatmap(b *model.Beatmap) (*model.BeatmapSet, error)

	// QuerySet returns the first set matching pred, unpopulated, or nil.
	QuerySet(pred func(*model.BeatmapSet) bool) (*model.BeatmapSet, error)

	// QuerySets returns every set matching pred, unpopulated.
	QuerySets(pred func(*model.BeatmapSet) bool) ([]*model.BeatmapSet, error)

	// QueryBeatmap returns the first beatmap matching pred, or nil.
	QueryBeatmap(pred func(*model.Beatmap) bool) (*model.Beatmap, error)

	// QueryBeatmaps returns every beatmap matching pred.
	QueryBeatmaps(pred func(*model.Beatmap) bool) ([]*model.Beatmap, error)

	// AllUsableSets returns every set that is not delete-pending, populated
	// when populate is true.
	AllUsableSets(populate bool) ([]*model.BeatmapSet, error)

	// CreateOperation records the start of a mutating library operation and
	// returns its id. FinishOperation closes it with a final status.
	// ListOperations returns the most recent records, newest first.
	CreateOperation(operation, parameters string) (int64, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*Operation, error)

	// Reset clears the catalog to empty.
	Reset() error

	// Close closes the underlying connection.
	Close() error
}

package library

import (
	"fmt"
	"sync"

	"beatlib/internal/model"
)

// MetadataPolicy controls whether a beatmap's embedded metadata is kept or
// cleared in favour of the set-level record during import.
type MetadataPolicy string

const (
	// MetadataInheritWhenIdentical clears a beatmap's metadata only when it is
	// identical to the set's, so lookups fall back to the shared record.
	MetadataInheritWhenIdentical MetadataPolicy = "inherit-identical"

	// MetadataAlwaysKeep retains every beatmap's own metadata verbatim.
	MetadataAlwaysKeep MetadataPolicy = "keep"
)

// Options tunes library behaviour. The zero value is completed by Defaults.
type Options struct {
	// ItemExtension marks archive entries that are beatmap descriptors.
	ItemExtension string

	// OverlayExtension marks storyboard overlay entries.
	OverlayExtension string

	MetadataPolicy MetadataPolicy

	// ManagedRoot is the storage tree the library owns. Original archives
	// inside it are never deleted after import.
	ManagedRoot string

	// DeleteOriginals removes a source archive from disk once its import has
	// committed, provided it lies outside ManagedRoot.
	DeleteOriginals bool

	// ExternalRoot is the directory tree scanned by ImportFromExternalInstall.
	ExternalRoot string
}

// Defaults fills unset option fields with their standard values.
func (o Options) Defaults() Options {
	if o.ItemExtension == "" {
		o.ItemExtension = ".osu"
	}
	if o.OverlayExtension == "" {
		o.OverlayExtension = ".osb"
	}
	if o.MetadataPolicy == "" {
		o.MetadataPolicy = MetadataInheritWhenIdentical
	}
	return o
}

// Library is the orchestration layer that coordinates the catalog, the file
// store, the decoder and the ruleset store to manage a local collection of
// beatmap sets. It owns the global import lock: at most one archive import
// runs at a time, process-wide.
type Library struct {
	catalog  Catalog
	store    FileStore
	opener   ArchiveOpener
	decoder  Decoder
	rulesets RulesetStore
	sink     ProgressSink
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	opts     Options

	// importMu serializes the whole hash-compute → dedup-check → ingest →
	// catalog-add sequence. It is never held during working-set decoding.
	importMu sync.Mutex

	subMu   sync.Mutex
	added   []func(*model.BeatmapSet)
	removed []func(*model.BeatmapSet)
}

// ArchiveOpener turns a filesystem path into an ArchiveReader. Zip files and
// plain directories are both accepted as archive-equivalent sources.
type ArchiveOpener interface {
	Open(path string) (ArchiveReader, error)
}

// New creates a Library with the provided dependencies.
func New(catalog Catalog, store FileStore, opener ArchiveOpener, decoder Decoder, rulesets RulesetStore, sink ProgressSink, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Library {
	if sink == nil {
		sink = NopSink{}
	}
	return &Library{
		catalog:  catalog,
		store:    store,
		opener:   opener,
		decoder:  decoder,
		rulesets: rulesets,
		sink:     sink,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts.Defaults(),
	}
}

// OnSetAdded registers a callback fired after a set has been committed to the
// catalog. Callbacks run on the importing goroutine.
func (l *Library) OnSetAdded(fn func(*model.BeatmapSet)) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.added = append(l.added, fn)
}

// OnSetRemoved registers a callback fired after a set has been soft-deleted.
func (l *Library) OnSetRemoved(fn func(*model.BeatmapSet)) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.removed = append(l.removed, fn)
}

func (l *Library) notifyAdded(set *model.BeatmapSet) {
	l.subMu.Lock()
	subs := append([]func(*model.BeatmapSet){}, l.added...)
	l.subMu.Unlock()
	for _, fn := range subs {
		fn(set)
	}
}

func (l *Library) notifyRemoved(set *model.BeatmapSet) {
	l.subMu.Lock()
	subs := append([]func(*model.BeatmapSet){}, l.removed...)
	l.subMu.Unlock()
	for _, fn := range subs {
		fn(set)
	}
}

// Delete soft-deletes a set: the catalog row is marked delete-pending and the
// set's file references are released, unless the set is protected, in which
// case files are retained regardless of delete state. Returns false if the
// set was already delete-pending.
func (l *Library) Delete(set *model.BeatmapSet) (bool, error) {
	if err := l.catalog.PopulateSet(set); err != nil {
		return false, fmt.Errorf("populating set before delete: %w", err)
	}

	ok, err := l.catalog.DeleteSet(set)
	if err != nil {
		return false, fmt.Errorf("deleting set: %w", err)
	}
	if !ok {
		return false, nil
	}

	if !set.Protected {
		if err := l.store.Dereference(setHandles(set)); err != nil {
			return true, fmt.Errorf("dereferencing set files: %w", err)
		}
	}

	l.logger.Info("set deleted", "set", set.ID, "title", set.Metadata.Title)
	l.notifyRemoved(set)
	return true, nil
}

// Undelete restores a soft-deleted set, re-referencing its files so that
// delete followed by undelete leaves every reference count exactly where it
// started. Returns false if the set was not delete-pending.
func (l *Library) Undelete(set *model.BeatmapSet) (bool, error) {
	if err := l.catalog.PopulateSet(set); err != nil {
		return false, fmt.Errorf("populating set before undelete: %w", err)
	}

	ok, err := l.catalog.UndeleteSet(set)
	if err != nil {
		return false, fmt.Errorf("undeleting set: %w", err)
	}
	if !ok {
		return false, nil
	}

	if !set.Protected {
		if err := l.store.Reference(setHandles(set)); err != nil {
			return true, fmt.Errorf("referencing set files: %w", err)
		}
	}

	l.logger.Info("set restored", "set", set.ID, "title", set.Metadata.Title)
	l.notifyAdded(set)
	return true, nil
}

// DeleteAll soft-deletes every usable, unprotected set.
// Per-set failures are logged and do not stop the sweep.
func (l *Library) DeleteAll() (int, error) {
	sets, err := l.catalog.AllUsableSets(false)
	if err != nil {
		return 0, fmt.Errorf("listing sets: %w", err)
	}

	count := 0
	for _, set := range sets {
		if set.Protected {
			continue
		}
		ok, err := l.Delete(set)
		if err != nil {
			l.logger.Error("delete failed", "set", set.ID, "error", err)
			continue
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// Purge removes a set and its records outright and releases its file
// references. Blobs persist until their reference count reaches zero.
func (l *Library) Purge(set *model.BeatmapSet) error {
	if err := l.catalog.PopulateSet(set); err != nil {
		return fmt.Errorf("populating set before purge: %w", err)
	}

	// A pending set's references were already released on delete.
	deref := !set.DeletePending && !set.Protected

	if err := l.catalog.PurgeSet(set); err != nil {
		return fmt.Errorf("purging set: %w", err)
	}

	if deref {
		if err := l.store.Dereference(setHandles(set)); err != nil {
			return fmt.Errorf("dereferencing set files: %w", err)
		}
	}

	l.notifyRemoved(set)
	return nil
}

// Reset clears the catalog to empty and releases the remaining file
// references, so a later Cleanup can collect the orphaned blobs.
func (l *Library) Reset() error {
	// Soft-deleted sets already released their references on delete; only
	// the usable ones still hold blobs.
	sets, err := l.catalog.AllUsableSets(true)
	if err != nil {
		return fmt.Errorf("listing sets before reset: %w", err)
	}

	if err := l.catalog.Reset(); err != nil {
		return fmt.Errorf("resetting catalog: %w", err)
	}

	for _, set := range sets {
		if err := l.store.Dereference(setHandles(set)); err != nil {
			l.logger.Error("dereference failed during reset", "set", set.ID, "error", err)
		}
	}

	l.logger.Warn("catalog reset")
	return nil
}

// Cleanup physically removes blobs whose reference count has reached zero.
func (l *Library) Cleanup() (int, error) {
	return l.store.Cleanup()
}

// QuerySet returns the first set matching pred, or nil.
func (l *Library) QuerySet(pred func(*model.BeatmapSet) bool) (*model.BeatmapSet, error) {
	return l.catalog.QuerySet(pred)
}

// QuerySets returns every set matching pred.
func (l *Library) QuerySets(pred func(*model.BeatmapSet) bool) ([]*model.BeatmapSet, error) {
	return l.catalog.QuerySets(pred)
}

// QueryBeatmap returns the first beatmap matching pred, or nil.
func (l *Library) QueryBeatmap(pred func(*model.Beatmap) bool) (*model.Beatmap, error) {
	return l.catalog.QueryBeatmap(pred)
}

// QueryBeatmaps returns every beatmap matching pred.
func (l *Library) QueryBeatmaps(pred func(*model.Beatmap) bool) ([]*model.Beatmap, error) {
	return l.catalog.QueryBeatmaps(pred)
}

// AllUsableSets returns every set that is not delete-pending.
func (l *Library) AllUsableSets(populate bool) ([]*model.BeatmapSet, error) {
	return l.catalog.AllUsableSets(populate)
}

// setHandles collects the blob handles of every file record in a set.
func setHandles(set *model.BeatmapSet) []model.FileHandle {
	handles := make([]model.FileHandle, len(set.Files))
	for i, f := range set.Files {
		handles[i] = f.File
	}
	return handles
}

package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"beatlib/internal/archive"
	"beatlib/internal/catalog"
	"beatlib/internal/config"
	"beatlib/internal/descriptor"
	"beatlib/internal/encryption"
	"beatlib/internal/filestore"
	"beatlib/internal/library"
	"beatlib/internal/model"
	"beatlib/internal/rulesets"
)

// App is the application layer between the CLI and the Library.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths and ids, and manages the catalog lifecycle on
// Close.
type App struct {
	cfg       *config.Config
	catalog   library.Catalog
	store     library.FileStore
	encryptor library.Encryptor
	lib       *library.Library
	op        *LibraryOperation
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Import", "Wipe").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	store, err := filestore.NewStoreFromConfig(cfg.Store, enc)
	if err != nil {
		return nil, fmt.Errorf("creating file store: %w", err)
	}

	cat, err := catalog.NewCatalogFromConfig(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("creating catalog: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	opts := library.Options{
		ItemExtension:    cfg.Import.ItemExtension,
		OverlayExtension: cfg.Import.OverlayExtension,
		MetadataPolicy:   library.MetadataPolicy(cfg.Import.MetadataPolicy),
		ManagedRoot:      cfg.BaseDir,
		DeleteOriginals:  cfg.Import.DeleteOriginals,
		ExternalRoot:     cfg.Import.ExternalRoot,
	}

	lib := library.New(cat, store, archive.NewOpener(), descriptor.NewDecoder(),
		rulesets.NewRegistry(), nil, &slogAdapter{l: logger},
		library.RealClock{}, library.UUIDGenerator{}, opts)

	return &App{
		cfg:       cfg,
		catalog:   cat,
		store:     store,
		encryptor: enc,
		lib:       lib,
		op:        NewLibraryOperation(operation, ""),
		logFile:   logFile,
	}, nil
}

// Library exposes the wired library for callers that need direct access,
// such as progress-aware imports.
func (a *App) Library() *library.Library { return a.lib }

// persistOperation saves the operation to the catalog, giving it an
// auto-increment ID. This should only be called for mutating commands.
func (a *App) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	a.op.Parameters = parameters
	id, err := a.catalog.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// MarkFailed records that the current operation ended in error.
func (a *App) MarkFailed() { a.op.Status = "error" }

// Import resolves the given paths and imports each one as a beatmap set
// archive. Returns the sets that were committed.
func (a *App) Import(rawPaths ...string) ([]*model.BeatmapSet, error) {
	if err := a.persistOperation(fmt.Sprintf("%d path(s)", len(rawPaths))); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(rawPaths))
	for _, p := range rawPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving path %s: %w", p, err)
		}
		paths = append(paths, abs)
	}

	return a.lib.ImportMany(nil, paths...), nil
}

// ImportExternal scans the configured external install tree and imports every
// set directory found there.
func (a *App) ImportExternal() ([]*model.BeatmapSet, error) {
	if err := a.persistOperation(a.cfg.Import.ExternalRoot); err != nil {
		return nil, err
	}
	return a.lib.ImportFromExternalInstall()
}

// List returns every usable set, fully populated.
func (a *App) List() ([]*model.BeatmapSet, error) {
	return a.lib.AllUsableSets(true)
}

// findSet looks up a set by id, converting a missing row into a NotFoundError.
func (a *App) findSet(id int64) (*model.BeatmapSet, error) {
	set, err := a.catalog.FindSetByID(id)
	if err != nil {
		return nil, fmt.Errorf("looking up set %d: %w", id, err)
	}
	if set == nil {
		return nil, &library.NotFoundError{Kind: "set", ID: id}
	}
	return set, nil
}

// Delete soft-deletes the set with the given id.
// Returns false if the set was already deleted.
func (a *App) Delete(id int64) (bool, error) {
	if err := a.persistOperation(fmt.Sprintf("set=%d", id)); err != nil {
		return false, err
	}
	set, err := a.findSet(id)
	if err != nil {
		return false, err
	}
	return a.lib.Delete(set)
}

// Undelete restores the soft-deleted set with the given id.
// Returns false if the set was not deleted.
func (a *App) Undelete(id int64) (bool, error) {
	if err := a.persistOperation(fmt.Sprintf("set=%d", id)); err != nil {
		return false, err
	}
	set, err := a.findSet(id)
	if err != nil {
		return false, err
	}
	return a.lib.Undelete(set)
}

// Purge removes the set with the given id outright.
func (a *App) Purge(id int64) error {
	if err := a.persistOperation(fmt.Sprintf("set=%d", id)); err != nil {
		return err
	}
	set, err := a.findSet(id)
	if err != nil {
		return err
	}
	return a.lib.Purge(set)
}

// Wipe soft-deletes every usable, unprotected set.
// Returns the number of sets deleted.
func (a *App) Wipe() (int, error) {
	if err := a.persistOperation(""); err != nil {
		return 0, err
	}
	return a.lib.DeleteAll()
}

// Reset clears the catalog to empty. Stored blobs are left for Cleanup.
func (a *App) Reset() error {
	if err := a.persistOperation(""); err != nil {
		return err
	}
	return a.lib.Reset()
}

// Cleanup removes blobs whose reference count has reached zero.
// Returns the number of blobs removed.
func (a *App) Cleanup() (int, error) {
	if err := a.persistOperation(""); err != nil {
		return 0, err
	}
	return a.lib.Cleanup()
}

// History returns the most recent recorded operations, newest first.
func (a *App) History(limit int) ([]*library.Operation, error) {
	return a.catalog.ListOperations(limit)
}

// Close finalizes the operation record and closes all resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.catalog.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.catalog.Close(); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("closing catalog: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

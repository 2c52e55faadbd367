package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"beatlib/internal/catalog/migrations"
	"beatlib/internal/library"
	"beatlib/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements the library.Catalog interface using SQLite.
//
// Every public method takes the catalog mutex, so catalog operations are
// serialized against each other independently of the library's import lock:
// read-only queries never wait for a whole import, only for the brief
// catalog-touching moments within it.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteCatalog opens (and migrates) a catalog database.
// path can be a file path or ":memory:" for an in-memory catalog.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}

	return &SQLiteCatalog{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate PRAGMAs.
// Exported for tools and tests that need a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection; the pool must not open a
	// second one.
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	// Foreign keys drive the ON DELETE CASCADE from sets to beatmaps and
	// file records; SQLite ships with them off.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

const setColumns = `id, hash, online_id, title, artist, creator, audio_file,
	background_file, tags, preview_time, storyboard_file, protected,
	delete_pending, created_at`

const beatmapColumns = `id, set_id, path, hash, ruleset_id, star_rating,
	has_metadata, title, artist, creator, audio_file, background_file, tags,
	preview_time`

// AddSet persists a newly assembled set with its beatmaps and file records in
// a single transaction. A set that already has a catalog id is rejected:
// import must never double-insert.
func (c *SQLiteCatalog) AddSet(set *model.BeatmapSet) error {
	if set.ID != 0 {
		return fmt.Errorf("set already persisted with id %d", set.ID)
	}
	if len(set.Beatmaps) == 0 {
		return fmt.Errorf("set must contain at least one beatmap")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var onlineID sql.NullInt64
	if set.OnlineID != nil {
		onlineID = sql.NullInt64{Int64: *set.OnlineID, Valid: true}
	}

	res, err := tx.Exec(`INSERT INTO beatmap_sets
		(hash, online_id, title, artist, creator, audio_file, background_file,
		 tags, preview_time, storyboard_file, protected, delete_pending, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		set.Hash, onlineID, set.Metadata.Title, set.Metadata.Artist,
		set.Metadata.Creator, set.Metadata.AudioFile, set.Metadata.BackgroundFile,
		set.Metadata.Tags, set.Metadata.PreviewTime, set.StoryboardFile,
		set.Protected, set.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting set: %w", err)
	}
	setID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading set id: %w", err)
	}

	for _, b := range set.Beatmaps {
		meta := model.Metadata{PreviewTime: -1}
		hasMeta := b.Metadata != nil
		if hasMeta {
			meta = *b.Metadata
		}
		res, err := tx.Exec(`INSERT INTO beatmaps
			(set_id, path, hash, ruleset_id, star_rating, has_metadata,
			 title, artist, creator, audio_file, background_file, tags, preview_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			setID, b.Path, b.Hash, b.RulesetID, b.StarRating, hasMeta,
			meta.Title, meta.Artist, meta.Creator, meta.AudioFile,
			meta.BackgroundFile, meta.Tags, meta.PreviewTime)
		if err != nil {
			return fmt.Errorf("inserting beatmap %s: %w", b.Path, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading beatmap id: %w", err)
		}
		b.ID = id
		b.SetID = setID
	}

	for i := range set.Files {
		f := &set.Files[i]
		res, err := tx.Exec(`INSERT INTO set_files (set_id, filename, file_hash, storage_path)
			VALUES (?, ?, ?, ?)`,
			setID, f.Filename, f.File.Hash, f.File.StoragePath)
		if err != nil {
			return fmt.Errorf("inserting file record %s: %w", f.Filename, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading file record id: %w", err)
		}
		f.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	set.ID = setID
	return nil
}

// FindSetByHash returns the non-purged set with the given content hash,
// soft-deleted or not, populated. Returns (nil, nil) when absent.
func (c *SQLiteCatalog) FindSetByHash(hash string) (*model.BeatmapSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, err := c.scanOneSet(`SELECT `+setColumns+` FROM beatmap_sets WHERE hash = ?`, hash)
	if err != nil || set == nil {
		return set, err
	}
	if err := c.populateSet(set); err != nil {
		return nil, err
	}
	return set, nil
}

// FindSetByID returns the set with the given id, populated, or (nil, nil).
func (c *SQLiteCatalog) FindSetByID(id int64) (*model.BeatmapSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, err := c.scanOneSet(`SELECT `+setColumns+` FROM beatmap_sets WHERE id = ?`, id)
	if err != nil || set == nil {
		return set, err
	}
	if err := c.populateSet(set); err != nil {
		return nil, err
	}
	return set, nil
}

// DeleteSet marks the set delete-pending. Returns false without writing when
// it already was: delete is a no-op on an already-deleted set.
func (c *SQLiteCatalog) DeleteSet(set *model.BeatmapSet) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.flipDeletePending(set.ID, false, true)
	if err != nil {
		return false, err
	}
	if ok {
		set.DeletePending = true
	}
	return ok, nil
}

// UndeleteSet clears the delete-pending mark. Returns false when the set was
// not pending.
func (c *SQLiteCatalog) UndeleteSet(set *model.BeatmapSet) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.flipDeletePending(set.ID, true, false)
	if err != nil {
		return false, err
	}
	if ok {
		set.DeletePending = false
	}
	return ok, nil
}

// flipDeletePending transitions delete_pending from one value to the other
// inside a transaction, reporting whether the transition happened.
func (c *SQLiteCatalog) flipDeletePending(setID int64, from, to bool) (bool, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var current bool
	err = tx.QueryRow(`SELECT delete_pending FROM beatmap_sets WHERE id = ?`, setID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, &library.NotFoundError{Kind: "set", ID: setID}
		}
		return false, fmt.Errorf("reading delete state: %w", err)
	}
	if current != from {
		return false, nil
	}

	if _, err := tx.Exec(`UPDATE beatmap_sets SET delete_pending = ? WHERE id = ?`, to, setID); err != nil {
		return false, fmt.Errorf("updating delete state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// PurgeSet removes the set's rows outright. Beatmaps and file records go with
// it via cascade; blobs are the caller's concern.
func (c *SQLiteCatalog) PurgeSet(set *model.BeatmapSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec(`DELETE FROM beatmap_sets WHERE id = ?`, set.ID)
	if err != nil {
		return fmt.Errorf("purging set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking purge result: %w", err)
	}
	if n == 0 {
		return &library.NotFoundError{Kind: "set", ID: set.ID}
	}
	return nil
}

// PopulateSet loads the set's beatmaps and file records. A set that already
// carries both is left untouched, making repeated calls cheap.
func (c *SQLiteCatalog) PopulateSet(set *model.BeatmapSet) error {
	if len(set.Beatmaps) > 0 && len(set.Files) > 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.populateSet(set)
}

// populateSet loads children. Callers hold mu.
func (c *SQLiteCatalog) populateSet(set *model.BeatmapSet) error {
	if set.ID == 0 {
		return &library.InvariantError{Msg: "cannot populate an unpersisted set"}
	}

	rows, err := c.db.Query(`SELECT `+beatmapColumns+` FROM beatmaps WHERE set_id = ? ORDER BY path`, set.ID)
	if err != nil {
		return fmt.Errorf("loading beatmaps: %w", err)
	}
	defer rows.Close()

	var beatmaps []*model.Beatmap
	for rows.Next() {
		b, err := scanBeatmap(rows)
		if err != nil {
			return err
		}
		beatmaps = append(beatmaps, b)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating beatmaps: %w", err)
	}

	fileRows, err := c.db.Query(`SELECT id, filename, file_hash, storage_path
		FROM set_files WHERE set_id = ? ORDER BY filename`, set.ID)
	if err != nil {
		return fmt.Errorf("loading file records: %w", err)
	}
	defer fileRows.Close()

	var files []model.FileRecord
	for fileRows.Next() {
		var f model.FileRecord
		if err := fileRows.Scan(&f.ID, &f.Filename, &f.File.Hash, &f.File.StoragePath); err != nil {
			return fmt.Errorf("scanning file record: %w", err)
		}
		files = append(files, f)
	}
	if err := fileRows.Err(); err != nil {
		return fmt.Errorf("iterating file records: %w", err)
	}

	if len(beatmaps) == 0 {
		return &library.NotFoundError{Kind: "set", ID: set.ID}
	}

	set.Beatmaps = beatmaps
	set.Files = files
	return nil
}

// PopulateBeatmap resolves the beatmap's weak back-reference to a fully
// populated owning set. Returns (nil, nil) when the set no longer exists.
func (c *SQLiteCatalog) PopulateBeatmap(b *model.Beatmap) (*model.BeatmapSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, err := c.scanOneSet(`SELECT `+setColumns+` FROM beatmap_sets WHERE id = ?`, b.SetID)
	if err != nil || set == nil {
		return set, err
	}
	if err := c.populateSet(set); err != nil {
		return nil, err
	}
	return set, nil
}

// QuerySet returns the first set matching pred, unpopulated, or nil.
func (c *SQLiteCatalog) QuerySet(pred func(*model.BeatmapSet) bool) (*model.BeatmapSet, error) {
	sets, err := c.QuerySets(pred)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}
	return sets[0], nil
}

// QuerySets returns every set matching pred, unpopulated. The predicate runs
// over scanned rows: catalog filtering stays in Go so callers can match on
// any field combination.
func (c *SQLiteCatalog) QuerySets(pred func(*model.BeatmapSet) bool) ([]*model.BeatmapSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT ` + setColumns + ` FROM beatmap_sets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying sets: %w", err)
	}
	defer rows.Close()

	var matches []*model.BeatmapSet
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(set) {
			matches = append(matches, set)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sets: %w", err)
	}
	return matches, nil
}

// QueryBeatmap returns the first beatmap matching pred, or nil.
func (c *SQLiteCatalog) QueryBeatmap(pred func(*model.Beatmap) bool) (*model.Beatmap, error) {
	maps, err := c.QueryBeatmaps(pred)
	if err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		return nil, nil
	}
	return maps[0], nil
}

// QueryBeatmaps returns every beatmap matching pred.
func (c *SQLiteCatalog) QueryBeatmaps(pred func(*model.Beatmap) bool) ([]*model.Beatmap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT ` + beatmapColumns + ` FROM beatmaps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying beatmaps: %w", err)
	}
	defer rows.Close()

	var matches []*model.Beatmap
	for rows.Next() {
		b, err := scanBeatmap(rows)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(b) {
			matches = append(matches, b)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating beatmaps: %w", err)
	}
	return matches, nil
}

// AllUsableSets returns every set that is not delete-pending.
func (c *SQLiteCatalog) AllUsableSets(populate bool) ([]*model.BeatmapSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT ` + setColumns + ` FROM beatmap_sets WHERE delete_pending = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying usable sets: %w", err)
	}
	defer rows.Close()

	var sets []*model.BeatmapSet
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sets: %w", err)
	}

	if populate {
		for _, set := range sets {
			if err := c.populateSet(set); err != nil {
				return nil, err
			}
		}
	}
	return sets, nil
}

// Operation tracking

// CreateOperation records the start of a mutating library operation.
func (c *SQLiteCatalog) CreateOperation(operation, parameters string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec(`INSERT INTO operations (started_at, operation, parameters, status)
		VALUES (?, ?, ?, 'started')`, time.Now(), operation, parameters)
	if err != nil {
		return 0, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading operation id: %w", err)
	}
	return id, nil
}

// FinishOperation closes an operation record with a final status.
func (c *SQLiteCatalog) FinishOperation(id int64, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (c *SQLiteCatalog) ListOperations(limit int) ([]*library.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT id, started_at, finished_at, operation, parameters, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*library.Operation
	for rows.Next() {
		var op library.Operation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			op.FinishedAt = &finished.Time
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operations: %w", err)
	}
	return ops, nil
}

// Reset clears the catalog to empty. Administrative/testing operation.
func (c *SQLiteCatalog) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"set_files", "beatmaps", "beatmap_sets", "operations"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (c *SQLiteCatalog) Path() string { return c.path }

// CheckMigrations verifies the catalog schema is up-to-date.
func (c *SQLiteCatalog) CheckMigrations() error {
	return migrations.CheckStatus(c.db)
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanOneSet runs a single-row set query, mapping ErrNoRows to (nil, nil).
func (c *SQLiteCatalog) scanOneSet(query string, args ...any) (*model.BeatmapSet, error) {
	set, err := scanSet(c.db.QueryRow(query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return set, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSet(s scanner) (*model.BeatmapSet, error) {
	var set model.BeatmapSet
	var onlineID sql.NullInt64
	err := s.Scan(&set.ID, &set.Hash, &onlineID, &set.Metadata.Title,
		&set.Metadata.Artist, &set.Metadata.Creator, &set.Metadata.AudioFile,
		&set.Metadata.BackgroundFile, &set.Metadata.Tags, &set.Metadata.PreviewTime,
		&set.StoryboardFile, &set.Protected, &set.DeletePending, &set.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning set: %w", err)
	}
	if onlineID.Valid {
		set.OnlineID = &onlineID.Int64
	}
	return &set, nil
}

func scanBeatmap(s scanner) (*model.Beatmap, error) {
	var b model.Beatmap
	var hasMeta bool
	var meta model.Metadata
	err := s.Scan(&b.ID, &b.SetID, &b.Path, &b.Hash, &b.RulesetID, &b.StarRating,
		&hasMeta, &meta.Title, &meta.Artist, &meta.Creator, &meta.AudioFile,
		&meta.BackgroundFile, &meta.Tags, &meta.PreviewTime)
	if err != nil {
		return nil, fmt.Errorf("scanning beatmap: %w", err)
	}
	if hasMeta {
		b.Metadata = &meta
	}
	return &b, nil
}

// Compile-time check that SQLiteCatalog implements library.Catalog
var _ library.Catalog = (*SQLiteCatalog)(nil)

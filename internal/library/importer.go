package library

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"beatlib/internal/model"
)

// ImportMany imports each path in turn, best-effort: a failing archive is
// logged and skipped, siblings continue. Progress is reported through ev,
// which may be nil for headless callers. Cancellation via ev.Cancel is
// honoured between archives only; the archive in flight is either fully
// committed or fully abandoned. Returns the sets that were committed.
func (l *Library) ImportMany(ev *ProgressEvent, paths ...string) []*model.BeatmapSet {
	if ev == nil {
		ev = &ProgressEvent{}
	}
	if ev.BatchID == "" {
		ev.BatchID = l.idgen.New()
	}

	var imported []*model.BeatmapSet
	for i, path := range paths {
		if ev.State() == ProgressCancelled {
			l.logger.Info("batch import cancelled", "batch", ev.BatchID, "remaining", len(paths)-i)
			l.sink.Post(ev)
			return imported
		}

		ev.Text = fmt.Sprintf("Importing %s", filepath.Base(path))
		ev.Fraction = float64(i) / float64(len(paths))
		l.sink.Post(ev)

		set, err := l.ImportOne(path)
		if err != nil {
			l.logger.Error("import failed", "batch", ev.BatchID, "path", path, "error", err)
			continue
		}
		imported = append(imported, set)
	}

	ev.Text = fmt.Sprintf("Imported %d set(s)", len(imported))
	ev.Fraction = 1
	ev.complete()
	l.sink.Post(ev)
	return imported
}

// ImportOne imports a single archive (zip file or directory) from path.
// After a successful import the original archive is deleted when configured
// to do so, but never when it lies inside the managed storage tree; deletion
// failures are logged and swallowed.
func (l *Library) ImportOne(path string) (*model.BeatmapSet, error) {
	reader, err := l.opener.Open(path)
	if err != nil {
		return nil, &ArchiveError{Path: path, Err: err}
	}
	defer reader.Close()

	set, err := l.ImportReader(reader)
	if err != nil {
		return nil, err
	}

	l.maybeDeleteOriginal(path)
	return set, nil
}

// ImportReader imports one archive through an already-open reader. The whole
// sequence (set hash computation, dedup check, blob ingestion, catalog insert)
// runs under the global import lock, so two concurrent imports of identical
// content cannot race past the dedup check.
func (l *Library) ImportReader(reader ArchiveReader) (*model.BeatmapSet, error) {
	l.importMu.Lock()
	defer l.importMu.Unlock()

	entries, err := reader.Entries()
	if err != nil {
		return nil, &ArchiveError{Path: reader.Name(), Err: err}
	}
	sort.Strings(entries)

	items := l.itemEntries(entries)
	if len(items) == 0 {
		return nil, &ArchiveError{Path: reader.Name(), Err: fmt.Errorf("archive contains no %s entries", l.opts.ItemExtension)}
	}

	hash, err := l.setHash(reader, items)
	if err != nil {
		return nil, err
	}

	// Dedup: an archive whose content is already catalogued (even if soft-
	// deleted) is restored rather than re-ingested.
	existing, err := l.catalog.FindSetByHash(hash)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		if _, err := l.Undelete(existing); err != nil {
			return nil, err
		}
		l.logger.Info("import deduplicated", "hash", hash, "set", existing.ID)
		return existing, nil
	}

	set, err := l.ingest(reader, entries, items, hash)
	if err != nil {
		return nil, err
	}

	if err := l.catalog.AddSet(set); err != nil {
		// Abandon: release the references taken during ingestion so the
		// catalog never holds a partial set.
		l.releaseQuietly(setHandles(set))
		return nil, fmt.Errorf("committing set: %w", err)
	}

	l.logger.Info("set imported", "set", set.ID, "title", set.Metadata.Title,
		"beatmaps", len(set.Beatmaps), "files", len(set.Files))
	l.notifyAdded(set)
	return set, nil
}

// ImportSet persists a pre-assembled set whose files have already been added
// to the store. It runs under the import lock like any other import.
func (l *Library) ImportSet(set *model.BeatmapSet) error {
	l.importMu.Lock()
	defer l.importMu.Unlock()

	if err := l.catalog.AddSet(set); err != nil {
		return fmt.Errorf("committing set: %w", err)
	}
	l.notifyAdded(set)
	return nil
}

// ImportFromExternalInstall scans the configured external directory tree and
// imports every immediate subdirectory as an archive-equivalent source.
// A missing external root is a logged, non-fatal condition.
func (l *Library) ImportFromExternalInstall() ([]*model.BeatmapSet, error) {
	root := l.opts.ExternalRoot
	if root == "" {
		return nil, fmt.Errorf("no external install root configured")
	}

	dirEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("external install not found, nothing to import", "root", root)
			return nil, nil
		}
		return nil, fmt.Errorf("scanning external install: %w", err)
	}

	var paths []string
	for _, de := range dirEntries {
		if de.IsDir() {
			paths = append(paths, filepath.Join(root, de.Name()))
		}
	}

	l.logger.Info("importing from external install", "root", root, "candidates", len(paths))
	return l.ImportMany(nil, paths...), nil
}

// ingest streams every archive entry into the file store and decodes the item
// entries into beatmaps, assembling an unpersisted set. On any failure the
// references taken so far are released and nothing is committed.
func (l *Library) ingest(reader ArchiveReader, entries, items []string, hash string) (set *model.BeatmapSet, err error) {
	var files []model.FileRecord
	defer func() {
		if err != nil {
			l.releaseQuietly(fileHandles(files))
		}
	}()

	// Every entry becomes part of the set's file list, not just the beatmap
	// descriptors: backgrounds, audio and storyboards travel with the set.
	storyboard := ""
	for _, entry := range entries {
		rc, openErr := reader.Open(entry)
		if openErr != nil {
			return nil, &ArchiveError{Path: reader.Name(), Err: openErr}
		}
		handle, addErr := l.store.Add(rc)
		rc.Close()
		if addErr != nil {
			return nil, addErr
		}
		files = append(files, model.FileRecord{Filename: entry, File: handle})

		if storyboard == "" && strings.EqualFold(filepath.Ext(entry), l.opts.OverlayExtension) {
			storyboard = entry
		}
	}

	// Set-level metadata comes from the first item entry in filename order.
	first, err := l.decodeEntry(reader, items[0])
	if err != nil {
		return nil, err
	}

	set = &model.BeatmapSet{
		Hash:           hash,
		OnlineID:       first.OnlineSetID,
		Metadata:       first.Metadata,
		Files:          files,
		StoryboardFile: storyboard,
		CreatedAt:      l.clock.Now(),
	}

	for _, entry := range items {
		beatmap, mapErr := l.decodeBeatmap(reader, entry, set.Metadata)
		if mapErr != nil {
			return nil, mapErr
		}
		set.Beatmaps = append(set.Beatmaps, beatmap)
	}

	return set, nil
}

// decodeBeatmap re-opens one item entry on a fresh stream, decodes it and
// computes its per-entry content hash.
func (l *Library) decodeBeatmap(reader ArchiveReader, entry string, setMeta model.Metadata) (*model.Beatmap, error) {
	rc, err := reader.Open(entry)
	if err != nil {
		return nil, &ArchiveError{Path: reader.Name(), Err: err}
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, &ArchiveError{Path: reader.Name(), Err: err}
	}

	d, err := l.decoder.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Entry: entry, Err: err}
	}

	sum := sha256.Sum256(data)
	beatmap := &model.Beatmap{
		Path:      entry,
		Hash:      hex.EncodeToString(sum[:]),
		RulesetID: d.RulesetID,
	}

	// Metadata identical to the set's is cleared so reads fall back to the
	// shared record. The always-keep policy skips the comparison entirely.
	if l.opts.MetadataPolicy == MetadataAlwaysKeep || !d.Metadata.Equal(setMeta) {
		meta := d.Metadata
		beatmap.Metadata = &meta
	}

	// An unresolvable ruleset yields rating 0 and a still-valid beatmap.
	if ruleset := l.rulesets.Lookup(d.RulesetID); ruleset != nil {
		beatmap.StarRating = ruleset.Difficulty(d)
	} else {
		l.logger.Warn("unknown ruleset, difficulty skipped", "entry", entry, "ruleset", d.RulesetID)
	}

	return beatmap, nil
}

// setHash digests the bytes of every item entry, concatenated in filename
// order, into the set's dedup hash.
func (l *Library) setHash(reader ArchiveReader, items []string) (string, error) {
	h := sha256.New()
	for _, entry := range items {
		rc, err := reader.Open(entry)
		if err != nil {
			return "", &ArchiveError{Path: reader.Name(), Err: err}
		}
		_, err = io.Copy(h, rc)
		rc.Close()
		if err != nil {
			return "", &ArchiveError{Path: reader.Name(), Err: err}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// decodeEntry opens and decodes one entry.
func (l *Library) decodeEntry(reader ArchiveReader, entry string) (*Descriptor, error) {
	rc, err := reader.Open(entry)
	if err != nil {
		return nil, &ArchiveError{Path: reader.Name(), Err: err}
	}
	defer rc.Close()

	d, err := l.decoder.Decode(rc)
	if err != nil {
		return nil, &DecodeError{Entry: entry, Err: err}
	}
	return d, nil
}

// itemEntries filters entries down to the beatmap descriptor class.
func (l *Library) itemEntries(entries []string) []string {
	var items []string
	for _, e := range entries {
		if strings.EqualFold(filepath.Ext(e), l.opts.ItemExtension) {
			items = append(items, e)
		}
	}
	return items
}

// releaseQuietly drops references taken during an abandoned ingestion.
func (l *Library) releaseQuietly(handles []model.FileHandle) {
	if err := l.store.Dereference(handles); err != nil {
		l.logger.Error("releasing abandoned references", "error", err)
	}
}

// maybeDeleteOriginal removes a source archive after a committed import.
// Archives inside the managed storage tree are never touched, and failures
// never fail the import itself.
func (l *Library) maybeDeleteOriginal(path string) {
	if !l.opts.DeleteOriginals {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	if l.opts.ManagedRoot != "" {
		root, err := filepath.Abs(l.opts.ManagedRoot)
		if err == nil {
			if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
				return
			}
		}
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return
	}
	if err := os.Remove(abs); err != nil {
		l.logger.Warn("could not delete original archive", "path", abs, "error", err)
	}
}

func fileHandles(files []model.FileRecord) []model.FileHandle {
	handles := make([]model.FileHandle, len(files))
	for i, f := range files {
		handles[i] = f.File
	}
	return handles
}

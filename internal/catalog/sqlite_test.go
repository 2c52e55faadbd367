package catalog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"beatlib/internal/library"
	"beatlib/internal/model"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	cat, err := NewSQLiteCatalog(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	return cat
}

func makeSet(hash, title string) *model.BeatmapSet {
	meta := model.Metadata{
		Title:       title,
		Artist:      "artist",
		Creator:     "creator",
		AudioFile:   "audio.mp3",
		PreviewTime: -1,
	}
	hardMeta := meta
	hardMeta.Tags = "hard"
	return &model.BeatmapSet{
		Hash:     hash,
		Metadata: meta,
		Beatmaps: []*model.Beatmap{
			{Path: "a.osu", Hash: strings.Repeat("a1", 32), RulesetID: 0, StarRating: 2.5},
			{Path: "b.osu", Hash: strings.Repeat("b2", 32), RulesetID: 3, StarRating: 4.1, Metadata: &hardMeta},
		},
		Files: []model.FileRecord{
			{Filename: "a.osu", File: model.FileHandle{Hash: strings.Repeat("a1", 32), StoragePath: "content/a1"}},
			{Filename: "b.osu", File: model.FileHandle{Hash: strings.Repeat("b2", 32), StoragePath: "content/b2"}},
			{Filename: "audio.mp3", File: model.FileHandle{Hash: strings.Repeat("c3", 32), StoragePath: "content/c3"}},
		},
		CreatedAt: time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC),
	}
}

func addSet(t *testing.T, cat *SQLiteCatalog, hash, title string) *model.BeatmapSet {
	t.Helper()
	set := makeSet(hash, title)
	if err := cat.AddSet(set); err != nil {
		t.Fatalf("AddSet() error = %v", err)
	}
	return set
}

func TestAddSet(t *testing.T) {
	t.Run("assigns ids", func(t *testing.T) {
		cat := newTestCatalog(t)
		set := addSet(t, cat, "hash-1", "Song A")

		if set.ID == 0 {
			t.Error("set.ID not assigned")
		}
		for _, b := range set.Beatmaps {
			if b.ID == 0 {
				t.Error("beatmap ID not assigned")
			}
			if b.SetID != set.ID {
				t.Errorf("beatmap SetID = %d, want %d", b.SetID, set.ID)
			}
		}
		for _, f := range set.Files {
			if f.ID == 0 {
				t.Error("file record ID not assigned")
			}
		}
	})

	t.Run("rejects already persisted set", func(t *testing.T) {
		cat := newTestCatalog(t)
		set := addSet(t, cat, "hash-1", "Song A")
		if err := cat.AddSet(set); err == nil {
			t.Error("AddSet() of persisted set succeeded, want error")
		}
	})

	t.Run("rejects set without beatmaps", func(t *testing.T) {
		cat := newTestCatalog(t)
		set := makeSet("hash-1", "Song A")
		set.Beatmaps = nil
		if err := cat.AddSet(set); err == nil {
			t.Error("AddSet() without beatmaps succeeded, want error")
		}
	})

	t.Run("rejects duplicate hash", func(t *testing.T) {
		cat := newTestCatalog(t)
		addSet(t, cat, "hash-1", "Song A")
		if err := cat.AddSet(makeSet("hash-1", "Song A again")); err == nil {
			t.Error("AddSet() with duplicate hash succeeded, want error")
		}
	})
}

func TestFindSetByHash(t *testing.T) {
	cat := newTestCatalog(t)
	want := addSet(t, cat, "hash-1", "Song A")

	got, err := cat.FindSetByHash("hash-1")
	if err != nil {
		t.Fatalf("FindSetByHash() error = %v", err)
	}
	if got == nil {
		t.Fatal("FindSetByHash() = nil, want set")
	}
	if got.ID != want.ID {
		t.Errorf("ID = %d, want %d", got.ID, want.ID)
	}
	if got.Metadata.Title != "Song A" {
		t.Errorf("Title = %q, want %q", got.Metadata.Title, "Song A")
	}
	if len(got.Beatmaps) != 2 || len(got.Files) != 3 {
		t.Errorf("populated %d beatmaps / %d files, want 2 / 3", len(got.Beatmaps), len(got.Files))
	}

	// Per-beatmap metadata round-trips, including the inherit marker.
	if got.Beatmaps[0].Metadata != nil {
		t.Error("first beatmap metadata should be nil (inherited)")
	}
	if got.Beatmaps[1].Metadata == nil {
		t.Error("second beatmap metadata should be present")
	} else if got.Beatmaps[1].Metadata.Tags != "hard" {
		t.Errorf("Tags = %q, want %q", got.Beatmaps[1].Metadata.Tags, "hard")
	}

	missing, err := cat.FindSetByHash("no-such-hash")
	if err != nil {
		t.Fatalf("FindSetByHash(missing) error = %v", err)
	}
	if missing != nil {
		t.Errorf("FindSetByHash(missing) = %+v, want nil", missing)
	}

	// A soft-deleted set is still found by hash.
	if _, err := cat.DeleteSet(want); err != nil {
		t.Fatalf("DeleteSet() error = %v", err)
	}
	deleted, err := cat.FindSetByHash("hash-1")
	if err != nil {
		t.Fatalf("FindSetByHash(deleted) error = %v", err)
	}
	if deleted == nil || !deleted.DeletePending {
		t.Error("FindSetByHash() should return the soft-deleted set with DeletePending set")
	}
}

func TestFindSetByID(t *testing.T) {
	cat := newTestCatalog(t)
	want := addSet(t, cat, "hash-1", "Song A")

	got, err := cat.FindSetByID(want.ID)
	if err != nil {
		t.Fatalf("FindSetByID() error = %v", err)
	}
	if got == nil || got.Hash != "hash-1" {
		t.Errorf("FindSetByID() = %+v, want hash-1", got)
	}

	missing, err := cat.FindSetByID(9999)
	if err != nil {
		t.Fatalf("FindSetByID(missing) error = %v", err)
	}
	if missing != nil {
		t.Errorf("FindSetByID(missing) = %+v, want nil", missing)
	}
}

func TestDeleteUndeleteSet(t *testing.T) {
	cat := newTestCatalog(t)
	set := addSet(t, cat, "hash-1", "Song A")

	ok, err := cat.DeleteSet(set)
	if err != nil {
		t.Fatalf("DeleteSet() error = %v", err)
	}
	if !ok {
		t.Fatal("DeleteSet() = false, want true")
	}
	if !set.DeletePending {
		t.Error("set.DeletePending not updated")
	}

	ok, err = cat.DeleteSet(set)
	if err != nil {
		t.Fatalf("second DeleteSet() error = %v", err)
	}
	if ok {
		t.Error("second DeleteSet() = true, want false")
	}

	ok, err = cat.UndeleteSet(set)
	if err != nil {
		t.Fatalf("UndeleteSet() error = %v", err)
	}
	if !ok {
		t.Fatal("UndeleteSet() = false, want true")
	}
	if set.DeletePending {
		t.Error("set.DeletePending not cleared")
	}

	ok, err = cat.UndeleteSet(set)
	if err != nil {
		t.Fatalf("second UndeleteSet() error = %v", err)
	}
	if ok {
		t.Error("second UndeleteSet() = true, want false")
	}
}

func TestPurgeSet(t *testing.T) {
	cat := newTestCatalog(t)
	set := addSet(t, cat, "hash-1", "Song A")

	if err := cat.PurgeSet(set); err != nil {
		t.Fatalf("PurgeSet() error = %v", err)
	}

	got, err := cat.FindSetByID(set.ID)
	if err != nil {
		t.Fatalf("FindSetByID() error = %v", err)
	}
	if got != nil {
		t.Error("purged set still present")
	}

	// Cascade removed the beatmaps too.
	maps, err := cat.QueryBeatmaps(func(*model.Beatmap) bool { return true })
	if err != nil {
		t.Fatalf("QueryBeatmaps() error = %v", err)
	}
	if len(maps) != 0 {
		t.Errorf("beatmaps after purge = %d, want 0", len(maps))
	}

	var nf *library.NotFoundError
	if err := cat.PurgeSet(set); !errors.As(err, &nf) {
		t.Errorf("second PurgeSet() error = %v, want NotFoundError", err)
	}
}

func TestPopulateSet(t *testing.T) {
	cat := newTestCatalog(t)
	addSet(t, cat, "hash-1", "Song A")

	set, err := cat.QuerySet(func(s *model.BeatmapSet) bool { return s.Hash == "hash-1" })
	if err != nil {
		t.Fatalf("QuerySet() error = %v", err)
	}
	if set == nil {
		t.Fatal("QuerySet() = nil")
	}
	if len(set.Beatmaps) != 0 {
		t.Fatal("query result should be unpopulated")
	}

	if err := cat.PopulateSet(set); err != nil {
		t.Fatalf("PopulateSet() error = %v", err)
	}
	if len(set.Beatmaps) != 2 || len(set.Files) != 3 {
		t.Errorf("populated %d beatmaps / %d files, want 2 / 3", len(set.Beatmaps), len(set.Files))
	}

	// Beatmaps and files come back in path / filename order.
	if set.Beatmaps[0].Path != "a.osu" || set.Beatmaps[1].Path != "b.osu" {
		t.Errorf("beatmap order = %s, %s", set.Beatmaps[0].Path, set.Beatmaps[1].Path)
	}

	// Idempotent: a second populate does not duplicate children.
	if err := cat.PopulateSet(set); err != nil {
		t.Fatalf("second PopulateSet() error = %v", err)
	}
	if len(set.Beatmaps) != 2 || len(set.Files) != 3 {
		t.Errorf("repopulated %d beatmaps / %d files, want 2 / 3", len(set.Beatmaps), len(set.Files))
	}
}

func TestPopulateBeatmap(t *testing.T) {
	cat := newTestCatalog(t)
	set := addSet(t, cat, "hash-1", "Song A")

	b, err := cat.QueryBeatmap(func(b *model.Beatmap) bool { return b.Path == "b.osu" })
	if err != nil {
		t.Fatalf("QueryBeatmap() error = %v", err)
	}
	if b == nil {
		t.Fatal("QueryBeatmap() = nil")
	}

	owner, err := cat.PopulateBeatmap(b)
	if err != nil {
		t.Fatalf("PopulateBeatmap() error = %v", err)
	}
	if owner == nil || owner.ID != set.ID {
		t.Fatalf("owner = %+v, want set %d", owner, set.ID)
	}
	if len(owner.Beatmaps) != 2 {
		t.Errorf("owner populated with %d beatmaps, want 2", len(owner.Beatmaps))
	}

	orphan := &model.Beatmap{ID: 9999, SetID: 9999}
	owner, err = cat.PopulateBeatmap(orphan)
	if err == nil && owner != nil {
		t.Errorf("PopulateBeatmap(orphan) = %+v, want nil or error", owner)
	}
}

func TestAllUsableSets(t *testing.T) {
	cat := newTestCatalog(t)
	addSet(t, cat, "hash-1", "Song A")
	doomed := addSet(t, cat, "hash-2", "Song B")

	if _, err := cat.DeleteSet(doomed); err != nil {
		t.Fatalf("DeleteSet() error = %v", err)
	}

	sets, err := cat.AllUsableSets(true)
	if err != nil {
		t.Fatalf("AllUsableSets() error = %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("usable sets = %d, want 1", len(sets))
	}
	if sets[0].Hash != "hash-1" {
		t.Errorf("usable set = %s, want hash-1", sets[0].Hash)
	}
	if len(sets[0].Beatmaps) != 2 {
		t.Errorf("populate flag ignored: %d beatmaps", len(sets[0].Beatmaps))
	}
}

func TestQuerySets(t *testing.T) {
	cat := newTestCatalog(t)
	addSet(t, cat, "hash-1", "Song A")
	addSet(t, cat, "hash-2", "Song B")

	sets, err := cat.QuerySets(func(s *model.BeatmapSet) bool {
		return s.Metadata.Title == "Song B"
	})
	if err != nil {
		t.Fatalf("QuerySets() error = %v", err)
	}
	if len(sets) != 1 || sets[0].Hash != "hash-2" {
		t.Errorf("QuerySets() = %+v, want only hash-2", sets)
	}
}

func TestOperations(t *testing.T) {
	cat := newTestCatalog(t)

	id, err := cat.CreateOperation("Import", "2 path(s)")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if id == 0 {
		t.Fatal("operation id = 0")
	}

	if err := cat.FinishOperation(id, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	ops, err := cat.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("operations = %d, want 1", len(ops))
	}
	op := ops[0]
	if op.Operation != "Import" || op.Parameters != "2 path(s)" || op.Status != "success" {
		t.Errorf("operation = %+v", op)
	}
	if op.FinishedAt == nil {
		t.Error("FinishedAt not recorded")
	}
}

func TestListOperations_Order(t *testing.T) {
	cat := newTestCatalog(t)
	for _, name := range []string{"First", "Second", "Third"} {
		if _, err := cat.CreateOperation(name, ""); err != nil {
			t.Fatalf("CreateOperation(%s) error = %v", name, err)
		}
	}

	ops, err := cat.ListOperations(2)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("operations = %d, want 2", len(ops))
	}
	if ops[0].Operation != "Third" {
		t.Errorf("newest first: got %s", ops[0].Operation)
	}
}

func TestReset(t *testing.T) {
	cat := newTestCatalog(t)
	addSet(t, cat, "hash-1", "Song A")
	if _, err := cat.CreateOperation("Import", ""); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}

	if err := cat.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	sets, err := cat.QuerySets(func(*model.BeatmapSet) bool { return true })
	if err != nil {
		t.Fatalf("QuerySets() error = %v", err)
	}
	if len(sets) != 0 {
		t.Errorf("sets after reset = %d, want 0", len(sets))
	}
	ops, err := cat.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("operations after reset = %d, want 0", len(ops))
	}
}

package testutil

import (
	"testing"

	"beatlib/internal/descriptor"
	"beatlib/internal/filestore"
	"beatlib/internal/library"
	"beatlib/internal/rulesets"
)

// TestLibrary bundles a wired Library with the fakes behind it so tests can
// reach past the facade.
type TestLibrary struct {
	Lib     *library.Library
	Catalog library.Catalog
	Store   *filestore.MemoryStore
	Opener  *MemOpener
	Clock   *StubClock
}

// NewTestLibrary wires a Library over an in-memory store, an in-memory SQLite
// catalog and the given archives, with deterministic clock and ids.
func NewTestLibrary(t *testing.T, opts library.Options, archives ...*MemArchive) *TestLibrary {
	t.Helper()

	cat := NewTestCatalog(t)
	store := filestore.NewMemoryStore()
	opener := NewMemOpener(archives...)
	clock := FixedClock()

	lib := library.New(cat, store, opener, descriptor.NewDecoder(),
		rulesets.NewRegistry(), library.NopSink{}, library.NewNopLogger(),
		clock, NewStubIDGenerator(), opts)

	return &TestLibrary{
		Lib:     lib,
		Catalog: cat,
		Store:   store,
		Opener:  opener,
		Clock:   clock,
	}
}

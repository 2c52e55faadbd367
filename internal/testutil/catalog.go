package testutil

import (
	"testing"

	"beatlib/internal/catalog"
	"beatlib/internal/library"
)

// NewTestCatalog creates an in-memory SQLite catalog with the schema applied.
// The catalog is automatically closed when the test completes.
func NewTestCatalog(t *testing.T) library.Catalog {
	t.Helper()

	cat, err := catalog.NewSQLiteCatalog(":memory:")
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}

	t.Cleanup(func() {
		cat.Close()
	})

	return cat
}

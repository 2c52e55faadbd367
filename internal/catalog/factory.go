package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"beatlib/internal/config"
	"beatlib/internal/library"
)

// NewCatalogFromConfig creates a Catalog implementation based on the catalog
// config type.
func NewCatalogFromConfig(cfg config.CatalogConfig) (library.Catalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite catalog")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating catalog data directory: %w", err)
		}
		return NewSQLiteCatalog(filepath.Join(cfg.DataDir, "library.db"))
	case "memory":
		return NewSQLiteCatalog(":memory:")
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}
}

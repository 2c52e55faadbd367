package filestore

import (
	"fmt"

	"beatlib/internal/config"
	"beatlib/internal/library"
)

// NewStoreFromConfig creates a FileStore implementation based on the store
// config type. enc may be nil for plaintext storage.
func NewStoreFromConfig(cfg config.StoreConfig, enc library.Encryptor) (library.FileStore, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root, enc)
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		if enc != nil {
			return nil, fmt.Errorf("s3 store does not support at-rest encryption")
		}
		return NewS3Store(S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

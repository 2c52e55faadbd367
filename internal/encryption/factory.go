package encryption

import (
	"fmt"

	"beatlib/internal/config"
	"beatlib/internal/library"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// A nil Encryptor (type "none") means blobs are stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (library.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg.PublicKeyPath, cfg.PrivateKeyPath), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

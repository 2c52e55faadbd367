package encryption

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"beatlib/internal/config"
)

func TestTestEncryptor_RoundTrip(t *testing.T) {
	e := NewTestEncryptor()
	plaintext := []byte("some plaintext content")

	var encrypted bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(plaintext), &encrypted); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(encrypted.Bytes(), plaintext) {
		t.Error("ciphertext equals plaintext")
	}

	var decrypted bytes.Buffer
	if err := e.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted.Bytes(), plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted.Bytes(), plaintext)
	}
}

func TestTestEncryptor_RejectsUnmarkedInput(t *testing.T) {
	e := NewTestEncryptor()
	var out bytes.Buffer
	if err := e.Decrypt(bytes.NewReader([]byte("no header here")), &out); err == nil {
		t.Error("Decrypt() of unmarked input succeeded, want error")
	}
}

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	e := NewAgeEncryptor(filepath.Join(dir, "test.pub"), filepath.Join(dir, "test.key"))
	if err := e.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return e
}

func TestAgeEncryptor(t *testing.T) {
	t.Run("setup writes key files", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if !e.IsConfigured() {
			t.Error("IsConfigured() = false after Setup")
		}

		info, err := os.Stat(e.privateKeyPath)
		if err != nil {
			t.Fatalf("stat private key: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("private key mode = %o, want 0600", perm)
		}
	})

	t.Run("setup refuses to overwrite", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup(); err == nil {
			t.Error("second Setup() succeeded, want error")
		}
	})

	t.Run("round trip", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		plaintext := []byte("confidential blob bytes")

		var encrypted bytes.Buffer
		if err := e.Encrypt(bytes.NewReader(plaintext), &encrypted); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if bytes.Contains(encrypted.Bytes(), plaintext) {
			t.Error("ciphertext contains plaintext")
		}

		var decrypted bytes.Buffer
		if err := e.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(decrypted.Bytes(), plaintext) {
			t.Errorf("Decrypt() = %q, want %q", decrypted.Bytes(), plaintext)
		}
	})

	t.Run("decrypt with wrong key fails", func(t *testing.T) {
		sender := newTestAgeEncryptor(t)
		other := newTestAgeEncryptor(t)

		var encrypted bytes.Buffer
		if err := sender.Encrypt(bytes.NewReader([]byte("secret")), &encrypted); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}

		var out bytes.Buffer
		if err := other.Decrypt(bytes.NewReader(encrypted.Bytes()), &out); err == nil {
			t.Error("Decrypt() with wrong identity succeeded, want error")
		}
	})

	t.Run("not configured without key files", func(t *testing.T) {
		dir := t.TempDir()
		e := NewAgeEncryptor(filepath.Join(dir, "a.pub"), filepath.Join(dir, "a.key"))
		if e.IsConfigured() {
			t.Error("IsConfigured() = true without keys")
		}
	})
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		wantNil bool
		wantErr bool
	}{
		{name: "none", cfg: config.EncryptionConfig{Type: "none"}, wantNil: true},
		{name: "empty defaults to none", cfg: config.EncryptionConfig{}, wantNil: true},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}},
		{name: "age", cfg: config.EncryptionConfig{Type: "age", PublicKeyPath: "p", PrivateKeyPath: "k"}},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptorFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptorFromConfig() error = %v", err)
			}
			if (enc == nil) != tt.wantNil {
				t.Errorf("encryptor nil = %v, want %v", enc == nil, tt.wantNil)
			}
		})
	}
}

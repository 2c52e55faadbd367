package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"beatlib/internal/library"
	"beatlib/internal/model"
)

// FileSystemStore is a filesystem-backed, content-addressed blob store with
// reference counting. Layout:
//
//	<root>/
//	  content/
//	    <hh>/<hash>        (blob files, sharded by the first two hash chars)
//	    <hh>/<hash>.refs   (sidecar reference count, decimal text)
//
// Blob writes are atomic (temp file + rename) and first-writer-wins: a second
// add of the same content only bumps the reference count. When an encryptor
// is provided, blobs are encrypted at rest; hashes are always computed over
// the plaintext so dedup is unaffected.
type FileSystemStore struct {
	root       string
	contentDir string
	enc        library.Encryptor // nil means plaintext at rest

	// mu guards the reference-count sidecars and the pending set. Blob byte
	// I/O happens outside it.
	mu      sync.Mutex
	pending map[string]struct{} // hashes eligible for removal
}

// NewFileSystemStore creates a store rooted at the given path.
// enc may be nil for plaintext storage.
func NewFileSystemStore(root string, enc library.Encryptor) (*FileSystemStore, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating content directory: %w", err)
	}
	return &FileSystemStore{
		root:       root,
		contentDir: contentDir,
		enc:        enc,
		pending:    make(map[string]struct{}),
	}, nil
}

// Root returns the store's root directory.
func (s *FileSystemStore) Root() string { return s.root }

// Add hashes the stream, writes the blob if it is new and increments its
// reference count.
func (s *FileSystemStore) Add(r io.Reader) (model.FileHandle, error) {
	// Hash the plaintext while spooling it to a temp file, so encryption and
	// large inputs don't force the whole stream into memory.
	tmp, err := os.CreateTemp(s.contentDir, ".add-*")
	if err != nil {
		return model.FileHandle{}, &library.StorageError{Err: fmt.Errorf("creating temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(h, tmp), r); err != nil {
		tmp.Close()
		return model.FileHandle{}, &library.StorageError{Err: fmt.Errorf("spooling content: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return model.FileHandle{}, &library.StorageError{Err: fmt.Errorf("closing temp file: %w", err)}
	}

	hash := hex.EncodeToString(h.Sum(nil))
	blobPath := s.blobPath(hash)
	handle := model.FileHandle{Hash: hash, StoragePath: s.relPath(hash)}

	// First-writer-wins on the physical blob.
	if _, err := os.Stat(blobPath); err != nil {
		if !os.IsNotExist(err) {
			return model.FileHandle{}, &library.StorageError{Hash: hash, Err: err}
		}
		if err := s.writeBlob(blobPath, tmpPath); err != nil {
			return model.FileHandle{}, &library.StorageError{Hash: hash, Err: err}
		}
	}

	if err := s.adjustRef(hash, +1); err != nil {
		return model.FileHandle{}, err
	}
	return handle, nil
}

// Reference increments the reference count of each handle's blob.
func (s *FileSystemStore) Reference(handles []model.FileHandle) error {
	for _, h := range handles {
		if err := s.adjustRef(h.Hash, +1); err != nil {
			return err
		}
	}
	return nil
}

// Dereference decrements reference counts. Missing blobs are treated as
// already collected. Physical removal is deferred to Cleanup.
func (s *FileSystemStore) Dereference(handles []model.FileHandle) error {
	for _, h := range handles {
		if err := s.adjustRef(h.Hash, -1); err != nil {
			return err
		}
	}
	return nil
}

// Open returns a reader over the blob's plaintext bytes.
func (s *FileSystemStore) Open(handle model.FileHandle) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(handle.Hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &library.StorageError{Hash: handle.Hash, Err: fmt.Errorf("blob not found")}
		}
		return nil, &library.StorageError{Hash: handle.Hash, Err: err}
	}

	if s.enc == nil {
		return f, nil
	}

	// Decrypt through a pipe so callers keep a streaming interface.
	pr, pw := io.Pipe()
	go func() {
		defer f.Close()
		err := s.enc.Decrypt(f, pw)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// PathFor resolves a handle to the blob's physical path. Only valid for
// plaintext stores: an encrypted blob on disk is not the logical file.
func (s *FileSystemStore) PathFor(handle model.FileHandle) (string, error) {
	if s.enc != nil {
		return "", &library.StorageError{Hash: handle.Hash, Err: fmt.Errorf("store is encrypted, no direct path available")}
	}
	p := s.blobPath(handle.Hash)
	if _, err := os.Stat(p); err != nil {
		return "", &library.StorageError{Hash: handle.Hash, Err: err}
	}
	return p, nil
}

// Cleanup removes blobs whose reference count has reached zero. Eligibility
// is read from the sidecars on disk, not just the in-process pending set, so
// a fresh process still collects blobs dereferenced by an earlier one.
func (s *FileSystemStore) Cleanup() (int, error) {
	eligible, err := s.zeroRefHashes()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, hash := range eligible {
		s.mu.Lock()
		// Re-check under the lock: the blob may have been re-referenced
		// since it became eligible.
		count, err := s.readRef(hash)
		if err == nil && count <= 0 {
			os.Remove(s.blobPath(hash))
			os.Remove(s.refPath(hash))
			removed++
		}
		delete(s.pending, hash)
		s.mu.Unlock()
	}
	return removed, nil
}

// zeroRefHashes returns every hash whose sidecar records a zero count,
// unioned with the in-process pending set.
func (s *FileSystemStore) zeroRefHashes() ([]string, error) {
	seen := make(map[string]struct{})
	s.mu.Lock()
	for hash := range s.pending {
		seen[hash] = struct{}{}
	}
	s.mu.Unlock()

	err := filepath.WalkDir(s.contentDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".refs") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		count, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return fmt.Errorf("parsing refcount %s: %w", path, err)
		}
		if count <= 0 {
			seen[strings.TrimSuffix(d.Name(), ".refs")] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, &library.StorageError{Err: err}
	}

	hashes := make([]string, 0, len(seen))
	for hash := range seen {
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// Count returns the number of physical blobs currently stored.
func (s *FileSystemStore) Count() (int, error) {
	count := 0
	err := filepath.WalkDir(s.contentDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if !d.IsDir() && !strings.HasSuffix(name, ".refs") &&
			!strings.HasPrefix(name, ".add-") && !strings.HasPrefix(name, ".tmp-") {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, &library.StorageError{Err: err}
	}
	return count, nil
}

// writeBlob moves spooled plaintext into place, encrypting if configured.
// The rename makes the write atomic; a concurrent writer of the same hash
// simply wins or loses the rename with identical bytes either way.
func (s *FileSystemStore) writeBlob(blobPath, tmpPath string) error {
	if err := os.MkdirAll(filepath.Dir(blobPath), 0755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	final, err := os.CreateTemp(filepath.Dir(blobPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	finalPath := final.Name()

	src, err := os.Open(tmpPath)
	if err != nil {
		final.Close()
		os.Remove(finalPath)
		return fmt.Errorf("reopening spool: %w", err)
	}

	if s.enc == nil {
		_, err = io.Copy(final, src)
	} else {
		err = s.enc.Encrypt(src, final)
	}
	src.Close()
	if cerr := final.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(finalPath)
		return fmt.Errorf("writing blob: %w", err)
	}

	return os.Rename(finalPath, blobPath)
}

// adjustRef applies a +1/-1 delta to a blob's reference count sidecar.
// Decrementing a missing sidecar is a no-op: the blob was already collected.
func (s *FileSystemStore) adjustRef(hash string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.readRef(hash)
	if err != nil {
		return err
	}
	if count == 0 && delta < 0 {
		if _, err := os.Stat(s.blobPath(hash)); os.IsNotExist(err) {
			return nil // already collected
		}
	}

	count += delta
	if count < 0 {
		count = 0
	}

	data := strconv.FormatInt(count, 10)
	if err := os.WriteFile(s.refPath(hash), []byte(data), 0644); err != nil {
		return &library.StorageError{Hash: hash, Err: fmt.Errorf("writing refcount: %w", err)}
	}

	if count == 0 {
		s.pending[hash] = struct{}{}
	} else {
		delete(s.pending, hash)
	}
	return nil
}

// readRef returns the current reference count, 0 when no sidecar exists.
// Callers hold mu.
func (s *FileSystemStore) readRef(hash string) (int64, error) {
	data, err := os.ReadFile(s.refPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &library.StorageError{Hash: hash, Err: fmt.Errorf("reading refcount: %w", err)}
	}
	count, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, &library.StorageError{Hash: hash, Err: fmt.Errorf("parsing refcount: %w", err)}
	}
	return count, nil
}

// RefCount returns a blob's current reference count. Exposed for tests and
// the cleanup command's reporting.
func (s *FileSystemStore) RefCount(hash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRef(hash)
}

func (s *FileSystemStore) relPath(hash string) string {
	return filepath.Join("content", hash[:2], hash)
}

func (s *FileSystemStore) blobPath(hash string) string {
	return filepath.Join(s.contentDir, hash[:2], hash)
}

func (s *FileSystemStore) refPath(hash string) string {
	return s.blobPath(hash) + ".refs"
}

// Compile-time check that FileSystemStore implements library.FileStore
var _ library.FileStore = (*FileSystemStore)(nil)

package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"beatlib/internal/library"
	"beatlib/internal/model"
)

// MemoryStore is an in-memory implementation of the FileStore interface,
// useful for testing. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	refs    map[string]int64
	pending map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:   make(map[string][]byte),
		refs:    make(map[string]int64),
		pending: make(map[string]struct{}),
	}
}

// Add hashes and stores the stream, bumping the blob's reference count.
func (m *MemoryStore) Add(r io.Reader) (model.FileHandle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.FileHandle{}, &library.StorageError{Err: fmt.Errorf("reading content: %w", err)}
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[hash]; !ok {
		m.blobs[hash] = data
	}
	m.refs[hash]++
	delete(m.pending, hash)

	return model.FileHandle{Hash: hash, StoragePath: "memory/" + hash}, nil
}

// Reference increments reference counts.
func (m *MemoryStore) Reference(handles []model.FileHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handles {
		if _, ok := m.blobs[h.Hash]; !ok {
			continue
		}
		m.refs[h.Hash]++
		delete(m.pending, h.Hash)
	}
	return nil
}

// Dereference decrements reference counts; zero-count blobs become eligible
// for Cleanup. Missing blobs are treated as already collected.
func (m *MemoryStore) Dereference(handles []model.FileHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handles {
		if _, ok := m.blobs[h.Hash]; !ok {
			continue
		}
		if m.refs[h.Hash] > 0 {
			m.refs[h.Hash]--
		}
		if m.refs[h.Hash] == 0 {
			m.pending[h.Hash] = struct{}{}
		}
	}
	return nil
}

// Open returns a reader over the blob's bytes.
func (m *MemoryStore) Open(handle model.FileHandle) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[handle.Hash]
	if !ok {
		return nil, &library.StorageError{Hash: handle.Hash, Err: fmt.Errorf("blob not found")}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// PathFor always fails: memory blobs have no filesystem path.
func (m *MemoryStore) PathFor(handle model.FileHandle) (string, error) {
	return "", &library.StorageError{Hash: handle.Hash, Err: fmt.Errorf("memory store has no physical paths")}
}

// Cleanup removes blobs whose reference count is zero.
func (m *MemoryStore) Cleanup() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for hash := range m.pending {
		if m.refs[hash] == 0 {
			delete(m.blobs, hash)
			delete(m.refs, hash)
			removed++
		}
		delete(m.pending, hash)
	}
	return removed, nil
}

// Count returns the number of stored blobs.
func (m *MemoryStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs), nil
}

// RefCount returns a blob's reference count. Exposed for tests.
func (m *MemoryStore) RefCount(hash string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refs[hash]
}

// Corrupt removes a blob's bytes while leaving its references intact.
// Test hook for exercising degraded read paths.
func (m *MemoryStore) Corrupt(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, hash)
}

// Compile-time check that MemoryStore implements library.FileStore
var _ library.FileStore = (*MemoryStore)(nil)

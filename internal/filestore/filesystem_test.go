package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"beatlib/internal/encryption"
	"beatlib/internal/model"
)

func newTestStore(t *testing.T) *FileSystemStore {
	t.Helper()
	s, err := NewFileSystemStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	return s
}

func mustAdd(t *testing.T, s *FileSystemStore, content []byte) model.FileHandle {
	t.Helper()
	h, err := s.Add(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return h
}

func TestFileSystemStore_Add(t *testing.T) {
	s := newTestStore(t)
	content := []byte("some file content")

	h := mustAdd(t, s, content)

	sum := sha256.Sum256(content)
	if want := hex.EncodeToString(sum[:]); h.Hash != want {
		t.Errorf("Hash = %s, want %s", h.Hash, want)
	}
	if h.StoragePath == "" {
		t.Error("StoragePath is empty")
	}

	count, err := s.RefCount(h.Hash)
	if err != nil {
		t.Fatalf("RefCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("RefCount() = %d, want 1", count)
	}

	rc, err := s.Open(h)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, content) {
		t.Errorf("Open() = %q, want %q", got, content)
	}
}

func TestFileSystemStore_AddDeduplicates(t *testing.T) {
	s := newTestStore(t)
	content := []byte("shared content")

	h1 := mustAdd(t, s, content)
	h2 := mustAdd(t, s, content)

	if h1.Hash != h2.Hash {
		t.Fatalf("hashes differ: %s vs %s", h1.Hash, h2.Hash)
	}

	count, _ := s.RefCount(h1.Hash)
	if count != 2 {
		t.Errorf("RefCount() = %d, want 2", count)
	}

	blobs, err := s.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if blobs != 1 {
		t.Errorf("Count() = %d, want 1", blobs)
	}
}

func TestFileSystemStore_ReferenceDereference(t *testing.T) {
	s := newTestStore(t)
	h := mustAdd(t, s, []byte("refcounted"))

	if err := s.Reference([]model.FileHandle{h}); err != nil {
		t.Fatalf("Reference() error = %v", err)
	}
	if count, _ := s.RefCount(h.Hash); count != 2 {
		t.Errorf("RefCount() = %d, want 2", count)
	}

	if err := s.Dereference([]model.FileHandle{h, h}); err != nil {
		t.Fatalf("Dereference() error = %v", err)
	}
	if count, _ := s.RefCount(h.Hash); count != 0 {
		t.Errorf("RefCount() = %d, want 0", count)
	}

	// The blob is retained until Cleanup.
	if _, err := s.Open(h); err != nil {
		t.Errorf("Open() after zero refs error = %v, want blob retained", err)
	}
}

func TestFileSystemStore_DereferenceMissingBlob(t *testing.T) {
	s := newTestStore(t)
	ghost := model.FileHandle{Hash: strings.Repeat("ab", 32)}

	if err := s.Dereference([]model.FileHandle{ghost}); err != nil {
		t.Errorf("Dereference() of missing blob error = %v, want no-op", err)
	}
}

func TestFileSystemStore_Cleanup(t *testing.T) {
	s := newTestStore(t)
	keep := mustAdd(t, s, []byte("kept"))
	drop := mustAdd(t, s, []byte("dropped"))

	if err := s.Dereference([]model.FileHandle{drop}); err != nil {
		t.Fatalf("Dereference() error = %v", err)
	}

	removed, err := s.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}

	if _, err := s.Open(drop); err == nil {
		t.Error("Open() of collected blob succeeded, want error")
	}
	if _, err := s.Open(keep); err != nil {
		t.Errorf("Open() of kept blob error = %v", err)
	}

	// A second cleanup has nothing to do.
	removed, err = s.Cleanup()
	if err != nil {
		t.Fatalf("second Cleanup() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("second Cleanup() = %d, want 0", removed)
	}
}

func TestFileSystemStore_CleanupAcrossProcesses(t *testing.T) {
	root := t.TempDir()
	s1, err := NewFileSystemStore(root, nil)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	keep := mustAdd(t, s1, []byte("kept across restarts"))
	drop := mustAdd(t, s1, []byte("orphaned before restart"))
	if err := s1.Dereference([]model.FileHandle{drop}); err != nil {
		t.Fatalf("Dereference() error = %v", err)
	}

	// A fresh store over the same root stands in for a new process. It must
	// find the zero-count sidecar on disk without having seen the dereference.
	s2, err := NewFileSystemStore(root, nil)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}

	removed, err := s2.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	if _, err := s2.Open(drop); err == nil {
		t.Error("Open() of collected blob succeeded, want error")
	}
	if _, err := s2.Open(keep); err != nil {
		t.Errorf("Open() of kept blob error = %v", err)
	}
}

func TestFileSystemStore_CountIgnoresTempFiles(t *testing.T) {
	s := newTestStore(t)
	h := mustAdd(t, s, []byte("real blob"))

	// Simulate crash leftovers from both temp-file stages of a write.
	shard := filepath.Dir(s.blobPath(h.Hash))
	for _, name := range []string{".add-123456", ".tmp-654321"} {
		if err := os.WriteFile(filepath.Join(shard, name), []byte("partial"), 0644); err != nil {
			t.Fatalf("writing leftover %s: %v", name, err)
		}
	}

	blobs, err := s.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if blobs != 1 {
		t.Errorf("Count() = %d, want 1", blobs)
	}
}

func TestFileSystemStore_RereferenceBeforeCleanup(t *testing.T) {
	s := newTestStore(t)
	content := []byte("revived")
	h := mustAdd(t, s, content)

	if err := s.Dereference([]model.FileHandle{h}); err != nil {
		t.Fatalf("Dereference() error = %v", err)
	}
	// Re-adding the same content revives the zero-count blob.
	mustAdd(t, s, content)

	removed, err := s.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("Cleanup() = %d, want 0 for revived blob", removed)
	}
	if count, _ := s.RefCount(h.Hash); count != 1 {
		t.Errorf("RefCount() = %d, want 1", count)
	}
}

func TestFileSystemStore_PathFor(t *testing.T) {
	s := newTestStore(t)
	h := mustAdd(t, s, []byte("on disk"))

	p, err := s.PathFor(h)
	if err != nil {
		t.Fatalf("PathFor() error = %v", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("reading blob at %s: %v", p, err)
	}
	if string(data) != "on disk" {
		t.Errorf("blob bytes = %q", data)
	}
}

func TestFileSystemStore_ConcurrentAdds(t *testing.T) {
	s := newTestStore(t)
	content := []byte("contended content")

	const n = 8
	var wg sync.WaitGroup
	handles := make([]model.FileHandle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.Add(bytes.NewReader(content))
			if err != nil {
				t.Errorf("Add() error = %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles[1:] {
		if h.Hash != handles[0].Hash {
			t.Fatalf("hash mismatch across concurrent adds")
		}
	}
	if count, _ := s.RefCount(handles[0].Hash); count != n {
		t.Errorf("RefCount() = %d, want %d", count, n)
	}
	blobs, _ := s.Count()
	if blobs != 1 {
		t.Errorf("Count() = %d, want 1", blobs)
	}
}

func TestFileSystemStore_Encrypted(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir(), encryption.NewTestEncryptor())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	content := []byte("secret content")
	h, err := s.Add(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// The hash is over the plaintext.
	sum := sha256.Sum256(content)
	if want := hex.EncodeToString(sum[:]); h.Hash != want {
		t.Errorf("Hash = %s, want plaintext hash %s", h.Hash, want)
	}

	// The blob on disk is not the plaintext.
	raw, err := os.ReadFile(s.blobPath(h.Hash))
	if err != nil {
		t.Fatalf("reading raw blob: %v", err)
	}
	if bytes.Equal(raw, content) {
		t.Error("blob stored in plaintext despite encryptor")
	}

	// Open round-trips through decryption.
	rc, err := s.Open(h)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading decrypted blob: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("decrypted = %q, want %q", got, content)
	}

	// No direct path for encrypted blobs.
	if _, err := s.PathFor(h); err == nil {
		t.Error("PathFor() on encrypted store succeeded, want error")
	}
}

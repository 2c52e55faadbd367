package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"beatlib/internal/library"
)

// DirReader treats a plain directory as an archive: every file under it,
// recursively, is one entry named by its slash-separated relative path.
// Used for legacy folder-based imports and external install scans.
type DirReader struct {
	root string
}

// NewDirReader creates a reader over the directory at root.
func NewDirReader(root string) *DirReader {
	return &DirReader{root: root}
}

// Name identifies the source by its directory path.
func (d *DirReader) Name() string { return d.root }

// Entries walks the directory tree and returns relative paths of all files.
func (d *DirReader) Entries() ([]string, error) {
	var entries []string
	err := filepath.WalkDir(d.root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return entries, nil
}

// Open returns a fresh reader over one entry's bytes.
func (d *DirReader) Open(entry string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(entry)))
	if err != nil {
		return nil, fmt.Errorf("opening entry %s: %w", entry, err)
	}
	return f, nil
}

// Close is a no-op: entries hold their own file handles.
func (d *DirReader) Close() error { return nil }

// Compile-time check that DirReader implements library.ArchiveReader
var _ library.ArchiveReader = (*DirReader)(nil)

package archive

import (
	"archive/zip"
	"fmt"
	"io"

	"beatlib/internal/library"
)

// ZipReader reads entries from a zip container (.zip or .osz).
type ZipReader struct {
	path string
	zr   *zip.ReadCloser
}

// OpenZip opens a zip archive at the given path.
func OpenZip(path string) (*ZipReader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	return &ZipReader{path: path, zr: zr}, nil
}

// Name identifies the archive by its path.
func (z *ZipReader) Name() string { return z.path }

// Entries returns every file entry name in the archive, directories excluded.
func (z *ZipReader) Entries() ([]string, error) {
	var entries []string
	for _, f := range z.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, f.Name)
	}
	return entries, nil
}

// Open returns a fresh reader over one entry's bytes.
func (z *ZipReader) Open(entry string) (io.ReadCloser, error) {
	for _, f := range z.zr.File {
		if f.Name == entry {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("opening entry %s: %w", entry, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("entry not found: %s", entry)
}

// Close releases the underlying zip file.
func (z *ZipReader) Close() error { return z.zr.Close() }

// Compile-time check that ZipReader implements library.ArchiveReader
var _ library.ArchiveReader = (*ZipReader)(nil)

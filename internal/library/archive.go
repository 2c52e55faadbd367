package library

import "io"

// ArchiveReader enumerates the entries of one archive-like source (a zip file,
// or a plain directory treated as an archive) and opens a fresh stream per
// entry. Opening the same entry twice yields two independent readers.
type ArchiveReader interface {
	// Name identifies the source, used for logging and progress text.
	Name() string

	// Entries returns every entry name in the archive. Order is unspecified;
	// callers that need determinism sort the result.
	Entries() ([]string, error)

	// Open returns a fresh reader over one entry's bytes.
	Open(entry string) (io.ReadCloser, error)

	// Close releases the underlying source.
	Close() error
}

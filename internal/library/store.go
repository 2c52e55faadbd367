package library

import (
	"io"

	"beatlib/internal/model"
)

// FileStore provides content-addressed, reference-counted blob storage.
// Blobs are deduplicated by hash: storing identical content twice yields one
// physical blob with a reference count of two. All operations use
// io.Reader/io.ReadCloser for streaming to support large files without
// loading them entirely into memory.
type FileStore interface {
	// Add hashes the stream, stores the blob if no blob with that hash exists
	// yet, increments its reference count, and returns a handle to it.
	// Concurrent adds of identical content must not duplicate the physical blob.
	Add(r io.Reader) (model.FileHandle, error)

	// Reference increments the reference count of each handle's blob.
	// Used when a soft-deleted set is restored.
	Reference(handles []model.FileHandle) error

	// Dereference decrements the reference count of each handle's blob.
	// A blob whose count reaches zero becomes eligible for removal by Cleanup;
	// removal is never synchronous. Dereferencing a handle whose blob is
	// already gone is a no-op, not an error.
	Dereference(handles []model.FileHandle) error

	// Open returns a reader over the blob's (decrypted) bytes.
	Open(handle model.FileHandle) (io.ReadCloser, error)

	// PathFor resolves a handle to a local filesystem path when the backend
	// supports path-addressable retrieval, or an error when it does not.
	PathFor(handle model.FileHandle) (string, error)

	// Cleanup physically removes blobs whose reference count is zero and
	// returns how many were removed.
	Cleanup() (int, error)

	// Count returns the number of physical blobs currently stored.
	Count() (int, error)
}

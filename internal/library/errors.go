package library

import "fmt"

// ArchiveError indicates an unreadable or corrupt archive container.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("reading archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// DecodeError indicates malformed descriptor content within an archive entry.
type DecodeError struct {
	Entry string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding entry %s: %v", e.Entry, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StorageError indicates a blob write or read failure in the file store.
type StorageError struct {
	Hash string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Hash == "" {
		return fmt.Sprintf("file store: %v", e.Err)
	}
	return fmt.Sprintf("file store (blob %s): %v", e.Hash, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFoundError indicates a query or populate against an id absent from the catalog.
type NotFoundError struct {
	Kind string // "set" or "beatmap"
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found in catalog", e.Kind, e.ID)
}

// InvariantError indicates internal state that should be impossible, such as a
// working set requested for a beatmap whose owning set failed to populate.
// These are surfaced to the caller, never swallowed.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return e.Msg }

package archive

import (
	"fmt"
	"os"

	"beatlib/internal/library"
)

// Opener turns filesystem paths into archive readers: directories become
// DirReaders, anything else is treated as a zip container.
type Opener struct{}

// NewOpener creates an Opener.
func NewOpener() Opener { return Opener{} }

// Open inspects the path and returns the appropriate reader.
func (Opener) Open(path string) (library.ArchiveReader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if info.IsDir() {
		return NewDirReader(path), nil
	}
	return OpenZip(path)
}

// Compile-time check that Opener implements library.ArchiveOpener
var _ library.ArchiveOpener = Opener{}

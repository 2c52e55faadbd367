package testutil

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"beatlib/internal/library"
)

// MemArchive is an in-memory archive for import tests.
type MemArchive struct {
	ArchiveName string
	Files       map[string][]byte
	Closed      bool
}

// NewMemArchive creates an empty in-memory archive.
func NewMemArchive(name string) *MemArchive {
	return &MemArchive{ArchiveName: name, Files: make(map[string][]byte)}
}

// AddFile adds an entry to the archive, replacing any existing one.
func (a *MemArchive) AddFile(entry string, content []byte) *MemArchive {
	a.Files[entry] = content
	return a
}

func (a *MemArchive) Name() string { return a.ArchiveName }

func (a *MemArchive) Entries() ([]string, error) {
	entries := make([]string, 0, len(a.Files))
	for e := range a.Files {
		entries = append(entries, e)
	}
	sort.Strings(entries)
	return entries, nil
}

func (a *MemArchive) Open(entry string) (io.ReadCloser, error) {
	content, ok := a.Files[entry]
	if !ok {
		return nil, fmt.Errorf("entry not found: %s", entry)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (a *MemArchive) Close() error {
	a.Closed = true
	return nil
}

// MemOpener maps paths to in-memory archives.
type MemOpener struct {
	Archives map[string]*MemArchive
}

// NewMemOpener creates an opener serving the given archives by their names.
func NewMemOpener(archives ...*MemArchive) *MemOpener {
	o := &MemOpener{Archives: make(map[string]*MemArchive)}
	for _, a := range archives {
		o.Archives[a.ArchiveName] = a
	}
	return o
}

func (o *MemOpener) Open(path string) (library.ArchiveReader, error) {
	a, ok := o.Archives[path]
	if !ok {
		return nil, fmt.Errorf("archive not found: %s", path)
	}
	return a, nil
}

// BeatmapText renders a minimal valid beatmap entry. Each object line adds one
// hit object so tests can vary the object count.
func BeatmapText(title, artist, version string, mode int, objects ...string) []byte {
	var b strings.Builder
	b.WriteString("osu file format v14\n\n")
	b.WriteString("[General]\n")
	b.WriteString("AudioFilename: audio.mp3\n")
	b.WriteString("PreviewTime: 1500\n")
	fmt.Fprintf(&b, "Mode: %d\n\n", mode)
	b.WriteString("[Metadata]\n")
	fmt.Fprintf(&b, "Title:%s\n", title)
	fmt.Fprintf(&b, "Artist:%s\n", artist)
	b.WriteString("Creator:tester\n")
	fmt.Fprintf(&b, "Version:%s\n\n", version)
	b.WriteString("[Difficulty]\n")
	b.WriteString("OverallDifficulty:5\n\n")
	b.WriteString("[Events]\n")
	b.WriteString("0,0,\"bg.jpg\",0,0\n\n")
	b.WriteString("[HitObjects]\n")
	for _, o := range objects {
		b.WriteString(o)
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// SetArchive builds an archive that imports as one set with two beatmaps and
// the usual companion files.
func SetArchive(name, title string) *MemArchive {
	return NewMemArchive(name).
		AddFile("a.osu", BeatmapText(title, "artist", "Easy", 0, "64,64,100,1,0")).
		AddFile("b.osu", BeatmapText(title, "artist", "Hard", 0, "64,64,100,1,0", "128,128,200,1,0")).
		AddFile("bg.jpg", []byte("not really a jpeg")).
		AddFile("audio.mp3", []byte("not really audio"))
}

// Compile-time checks
var (
	_ library.ArchiveReader = (*MemArchive)(nil)
	_ library.ArchiveOpener = (*MemOpener)(nil)
)

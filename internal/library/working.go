package library

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"beatlib/internal/model"
)

// WorkingSet is the fully hydrated, decode-on-demand runtime representation
// of one beatmap. Construction is cheap; the body, background and track are
// decoded lazily on first access and cached. No library lock is held while
// decoding: these are pure local-storage operations.
type WorkingSet struct {
	Beatmap *model.Beatmap
	Set     *model.BeatmapSet

	store   FileStore
	decoder Decoder
	logger  Logger

	bodyOnce sync.Once
	body     *Descriptor
	bodyErr  error

	trackOnce sync.Once
	track     *Track
}

// GetWorkingSet builds a working set for a beatmap, resolving its weak
// back-reference through the catalog. When previous is non-nil and refers to
// the same audio content, the already-probed track is transferred instead of
// being probed again; a nil previous always results in full decoding.
func (l *Library) GetWorkingSet(b *model.Beatmap, previous *WorkingSet) (*WorkingSet, error) {
	set, err := l.catalog.PopulateBeatmap(b)
	if err != nil {
		return nil, fmt.Errorf("populating beatmap %d: %w", b.ID, err)
	}
	if set == nil {
		return nil, &InvariantError{Msg: fmt.Sprintf("beatmap %d has no owning set in the catalog", b.ID)}
	}

	ws := &WorkingSet{
		Beatmap: b,
		Set:     set,
		store:   l.store,
		decoder: l.decoder,
		logger:  l.logger,
	}
	if previous != nil {
		ws.transferFrom(previous)
	}
	return ws, nil
}

// transferFrom migrates expensive shared sub-resources from a previous
// working set. Only the audio track qualifies, and only when both sets point
// at the same blob.
func (w *WorkingSet) transferFrom(previous *WorkingSet) {
	prevTrack := previous.cachedTrack()
	if prevTrack == nil || prevTrack.silent {
		return
	}
	if rec := w.audioRecord(); rec != nil && rec.File.Hash == prevTrack.handle.Hash {
		w.trackOnce.Do(func() { w.track = prevTrack })
	}
}

func (w *WorkingSet) cachedTrack() *Track {
	// Reading w.track without forcing the Once is fine here: transfer happens
	// before the new working set escapes to other goroutines.
	return w.track
}

// Body decodes the beatmap's descriptor entry, then layers the set's
// storyboard overlay on top when one is declared. An overlay decode failure
// falls back to the primary result rather than failing the call.
func (w *WorkingSet) Body() (*Descriptor, error) {
	w.bodyOnce.Do(func() {
		w.body, w.bodyErr = w.decodeBody()
	})
	return w.body, w.bodyErr
}

func (w *WorkingSet) decodeBody() (*Descriptor, error) {
	rec := w.Set.FileByName(w.Beatmap.Path)
	if rec == nil {
		return nil, &InvariantError{Msg: fmt.Sprintf("beatmap entry %q has no file record in set %d", w.Beatmap.Path, w.Set.ID)}
	}

	primary, err := w.decodeRecord(rec)
	if err != nil {
		return nil, &DecodeError{Entry: rec.Filename, Err: err}
	}

	if w.Set.StoryboardFile == "" {
		return primary, nil
	}
	overlayRec := w.Set.FileByName(w.Set.StoryboardFile)
	if overlayRec == nil {
		return primary, nil
	}

	overlay, err := w.decodeRecord(overlayRec)
	if err != nil {
		w.logger.Warn("storyboard overlay decode failed, using primary body",
			"set", w.Set.ID, "overlay", overlayRec.Filename, "error", err)
		return primary, nil
	}

	merged := *primary
	merged.Events = append(append([]string{}, primary.Events...), overlay.Events...)
	return &merged, nil
}

func (w *WorkingSet) decodeRecord(rec *model.FileRecord) (*Descriptor, error) {
	rc, err := w.store.Open(rec.File)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return w.decoder.Decode(rc)
}

// Background returns a reader over the set's background image. The second
// return is false when no background filename is declared or the blob is
// missing: absence is the documented degraded behaviour, not an error.
func (w *WorkingSet) Background() (io.ReadCloser, bool) {
	meta := w.Beatmap.EffectiveMetadata(w.Set)
	if meta.BackgroundFile == "" {
		return nil, false
	}
	rec := w.Set.FileByName(meta.BackgroundFile)
	if rec == nil {
		return nil, false
	}
	rc, err := w.store.Open(rec.File)
	if err != nil {
		w.logger.Debug("background unavailable", "set", w.Set.ID, "file", rec.Filename, "error", err)
		return nil, false
	}
	return rc, true
}

// GetTrack returns the set's audio track, probing the blob on first call.
// A missing or unreadable audio blob degrades to a silent placeholder track
// rather than an error, so playback callers never have to handle failure.
func (w *WorkingSet) GetTrack() *Track {
	w.trackOnce.Do(func() {
		w.track = w.probeTrack()
	})
	return w.track
}

func (w *WorkingSet) probeTrack() *Track {
	meta := w.Beatmap.EffectiveMetadata(w.Set)
	rec := w.audioRecord()
	if rec == nil {
		if meta.AudioFile != "" {
			w.logger.Debug("audio file missing from set, using silent track",
				"set", w.Set.ID, "file", meta.AudioFile)
		}
		return silentTrack()
	}

	// Probe the blob so a corrupt or collected one degrades now, not at
	// playback time.
	rc, err := w.store.Open(rec.File)
	if err != nil {
		w.logger.Debug("audio blob unavailable, using silent track",
			"set", w.Set.ID, "file", rec.Filename, "error", err)
		return silentTrack()
	}
	rc.Close()

	return &Track{store: w.store, handle: rec.File, name: rec.Filename}
}

func (w *WorkingSet) audioRecord() *model.FileRecord {
	meta := w.Beatmap.EffectiveMetadata(w.Set)
	if meta.AudioFile == "" {
		return nil
	}
	return w.Set.FileByName(meta.AudioFile)
}

// Track is a playable audio resource backed by a stored blob, or a silent
// placeholder when the blob is unavailable.
type Track struct {
	store  FileStore
	handle model.FileHandle
	name   string
	silent bool
}

func silentTrack() *Track { return &Track{silent: true} }

// Silent reports whether this is the placeholder track.
func (t *Track) Silent() bool { return t.silent }

// Name returns the logical filename of the audio blob, empty when silent.
func (t *Track) Name() string { return t.name }

// Open returns a fresh reader over the audio bytes. The silent placeholder
// yields an empty stream.
func (t *Track) Open() (io.ReadCloser, error) {
	if t.silent {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return t.store.Open(t.handle)
}

// Package descriptor parses the plain-text beatmap format: a version header
// followed by [Section] blocks of key:value pairs, an [Events] block of raw
// comma-separated lines, and a [HitObjects] block with one object per line.
package descriptor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"beatlib/internal/library"
)

const formatPrefix = "osu file format v"

// Decoder parses beatmap entries into library descriptors.
type Decoder struct{}

// NewDecoder creates a Decoder.
func NewDecoder() Decoder { return Decoder{} }

// Decode reads one beatmap entry and returns its descriptor. The stream is
// consumed line by line; unknown sections and keys are skipped.
func (Decoder) Decode(r io.Reader) (*library.Descriptor, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	d := &library.Descriptor{}
	d.Metadata.PreviewTime = -1

	section := ""
	sawHeader := false
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if !sawHeader {
			if !strings.HasPrefix(line, formatPrefix) {
				return nil, &library.DecodeError{Err: errors.New("missing format header")}
			}
			sawHeader = true
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.Trim(line, "[]")
			continue
		}
		switch section {
		case "General", "Metadata", "Difficulty":
			key, value, ok := splitPair(line)
			if !ok {
				continue
			}
			applyPair(d, key, value)
		case "Events":
			d.Events = append(d.Events, line)
			if bg := backgroundFile(line); bg != "" && d.Metadata.BackgroundFile == "" {
				d.Metadata.BackgroundFile = bg
			}
		case "HitObjects":
			d.ObjectCount++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading beatmap: %w", err)
	}
	if !sawHeader {
		return nil, &library.DecodeError{Err: errors.New("empty beatmap")}
	}
	return d, nil
}

// splitPair breaks a "Key: value" line at the first colon.
func splitPair(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

func applyPair(d *library.Descriptor, key, value string) {
	switch key {
	case "Title":
		d.Metadata.Title = value
	case "Artist":
		d.Metadata.Artist = value
	case "Creator":
		d.Metadata.Creator = value
	case "Tags":
		d.Metadata.Tags = value
	case "AudioFilename":
		d.Metadata.AudioFile = value
	case "PreviewTime":
		if n, err := strconv.Atoi(value); err == nil {
			d.Metadata.PreviewTime = n
		}
	case "Version":
		d.Version = value
	case "Mode":
		if n, err := strconv.Atoi(value); err == nil {
			d.RulesetID = n
		}
	case "BeatmapSetID":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
			d.OnlineSetID = &n
		}
	case "OverallDifficulty":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			d.OverallDifficulty = f
		}
	}
}

// backgroundFile extracts the image filename from a background event line,
// which has the form `0,0,"bg.jpg",0,0`. Returns "" for any other event.
func backgroundFile(line string) string {
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return ""
	}
	kind := strings.TrimSpace(fields[0])
	if kind != "0" && !strings.EqualFold(kind, "Background") {
		return ""
	}
	return strings.Trim(strings.TrimSpace(fields[2]), `"`)
}

// Compile-time check that Decoder implements library.Decoder
var _ library.Decoder = Decoder{}

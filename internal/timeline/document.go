package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/jsonc"

	"github.com/cutroom/cutroom-agent/internal/faults"
)

// DocumentVersion is the current persisted project format version.
const DocumentVersion = 1

// driftTolerance bounds the difference between a stored and a recomputed
// start time before the document is reported as drifted.
const driftTolerance = 1e-6

// LibraryClip is a media asset available to the project.
type LibraryClip struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Path     string  `json:"path"`
	Kind     string  `json:"kind,omitempty"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	HasAudio bool    `json:"hasAudio,omitempty"`
}

// Document is the persisted project format.
type Document struct {
	Version       int           `json:"version"`
	TimelineClips []Clip        `json:"timelineClips"`
	LibraryClips  []LibraryClip `json:"libraryClips"`
}

// NewDocument captures s and the library into a document.
func NewDocument(s Snapshot, library []LibraryClip) Document {
	lib := make([]LibraryClip, len(library))
	copy(lib, library)
	return Document{
		Version:       DocumentVersion,
		TimelineClips: s.All(),
		LibraryClips:  lib,
	}
}

// Snapshot reconstructs the timeline described by d.
func (d Document) Snapshot() (Snapshot, error) {
	if d.Version > DocumentVersion {
		return Snapshot{}, faults.Validation("load document", "unsupported version %d", d.Version)
	}
	library := d.Library()
	clips := make([]Clip, len(d.TimelineClips))
	for i, c := range d.TimelineClips {
		// Clips without a native duration take it from their library entry.
		if lc, ok := library[c.SourceRef]; ok && c.SourceDuration == 0 && lc.Duration >= c.OutTime {
			c.SourceDuration = lc.Duration
		}
		clips[i] = c
	}
	return NewSnapshot(clips)
}

// Drift lists clips whose stored start time differs from the recomputed
// layout in s.
func (d Document) Drift(s Snapshot) []string {
	var drifted []string
	for _, stored := range d.TimelineClips {
		c, _, ok := s.Find(stored.ID)
		if !ok {
			continue
		}
		if math.Abs(c.StartTime-stored.StartTime) > driftTolerance {
			drifted = append(drifted, stored.ID)
		}
	}
	return drifted
}

// Library returns a lookup from library clip id to entry.
func (d Document) Library() map[string]LibraryClip {
	out := make(map[string]LibraryClip, len(d.LibraryClips))
	for _, lc := range d.LibraryClips {
		out[lc.ID] = lc
	}
	return out
}

// DecodeDocument parses a JSON or JSONC project document.
func DecodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return Document{}, faults.Validation("decode document", "%v", err)
	}
	if doc.Version == 0 {
		doc.Version = DocumentVersion
	}
	return doc, nil
}

// EncodeDocument renders d as indented JSON.
func EncodeDocument(d Document) ([]byte, error) {
	if d.TimelineClips == nil {
		d.TimelineClips = []Clip{}
	}
	if d.LibraryClips == nil {
		d.LibraryClips = []LibraryClip{}
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return append(data, '\n'), nil
}

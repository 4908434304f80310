package timeline

import (
	"errors"
	"testing"

	"github.com/cutroom/cutroom-agent/internal/faults"
)

func buildSample(t *testing.T) Snapshot {
	t.Helper()
	m := NewModel(WithIDFunc(seqIDs()))
	a, _ := m.InsertClip(TrackMain, "asset-a", 10, -1)
	b, _ := m.InsertClip(TrackMain, "asset-b", 7.5, -1)
	pip, _ := m.InsertClip(TrackOverlay, "asset-c", 4, -1)

	if _, err := m.TrimClip(a.ID, ptr(1.25), ptr(6.5)); err != nil {
		t.Fatal(err)
	}
	if err := m.SetMute(b.ID, true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetFilter(b.ID, FilterVintage); err != nil {
		t.Fatal(err)
	}
	if err := m.SetOverlays(a.ID, []Overlay{{
		ImageRef: "logo.png",
		Opacity:  0.8,
		Position: Position{X: 5, Y: 5},
		Size:     Size{Width: 15, Height: 10},
	}}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetGeometry(pip.ID, &Position{X: 70, Y: 5}, nil); err != nil {
		t.Fatal(err)
	}
	return m.Snapshot()
}

func TestDocumentRoundTrip(t *testing.T) {
	original := buildSample(t)
	library := []LibraryClip{{ID: "asset-a", Path: "/media/a.mp4", Duration: 10, HasAudio: true}}

	data, err := EncodeDocument(NewDocument(original, library))
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	restored, err := doc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if !restored.Equal(original) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", restored.All(), original.All())
	}
	if drift := doc.Drift(restored); len(drift) != 0 {
		t.Errorf("unexpected drift: %v", drift)
	}
	if len(doc.LibraryClips) != 1 || doc.Library()["asset-a"].Path != "/media/a.mp4" {
		t.Errorf("library lost: %+v", doc.LibraryClips)
	}
}

func TestDecodeDocumentAcceptsComments(t *testing.T) {
	data := []byte(`{
  // hand edited
  "version": 1,
  "timelineClips": [
    {"id": "b", "sourceRef": "s2", "inTime": 0, "outTime": 3, "startTime": 5, "track": 0},
    {"id": "a", "sourceRef": "s1", "inTime": 1, "outTime": 6, "startTime": 0, "track": 0},
  ],
  "libraryClips": []
}`)
	doc, err := DecodeDocument(data)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	s, err := doc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	clips := s.Clips(TrackMain)
	if clips[0].ID != "a" || clips[1].ID != "b" {
		t.Fatalf("clips not ordered by start time: %s", ids(clips))
	}
	if clips[1].StartTime != 5 {
		t.Errorf("start = %g, want 5", clips[1].StartTime)
	}
	if clips[0].SourceDuration != 6 {
		t.Errorf("missing source duration should default to out time, got %g", clips[0].SourceDuration)
	}
}

func TestDocumentSourceDurationFromLibrary(t *testing.T) {
	data := []byte(`{
  "version": 1,
  "timelineClips": [
    {"id": "c1", "sourceRef": "asset-1", "inTime": 2, "outTime": 5, "startTime": 0, "track": 0},
    {"id": "c2", "sourceRef": "asset-2", "inTime": 0, "outTime": 4, "startTime": 3, "track": 0}
  ],
  "libraryClips": [
    {"id": "asset-1", "path": "/media/a.mp4", "duration": 10},
    {"id": "asset-2", "path": "/media/b.mp4", "duration": 1}
  ]
}`)
	doc, err := DecodeDocument(data)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	s, err := doc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if c, _, _ := s.Find("c1"); c.SourceDuration != 10 {
		t.Errorf("c1 source duration = %g, want library duration 10", c.SourceDuration)
	}
	if c, _, _ := s.Find("c2"); c.SourceDuration != 4 {
		t.Errorf("c2 source duration = %g, want out time 4 when library is shorter", c.SourceDuration)
	}
	if doc.TimelineClips[0].SourceDuration != 0 {
		t.Error("Snapshot modified the document")
	}

	m := NewModel(WithSnapshot(s))
	got, err := m.TrimClip("c1", nil, ptr(8))
	if err != nil {
		t.Fatalf("TrimClip: %v", err)
	}
	if got.InTime != 2 || got.OutTime != 8 {
		t.Errorf("trim = [%g, %g], want [2, 8]", got.InTime, got.OutTime)
	}
}

func TestDocumentDrift(t *testing.T) {
	doc := Document{Version: 1, TimelineClips: []Clip{
		{ID: "a", SourceRef: "s", InTime: 0, OutTime: 2, StartTime: 0},
		{ID: "b", SourceRef: "s", InTime: 0, OutTime: 2, StartTime: 2.5},
	}}
	s, err := doc.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	drift := doc.Drift(s)
	if len(drift) != 1 || drift[0] != "b" {
		t.Errorf("drift = %v, want [b]", drift)
	}
}

func TestDocumentRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want error
	}{
		{"future version", Document{Version: 9}, faults.ErrValidation},
		{"duplicate ids", Document{Version: 1, TimelineClips: []Clip{
			{ID: "a", SourceRef: "s", OutTime: 1},
			{ID: "a", SourceRef: "s", OutTime: 1, Track: TrackOverlay},
		}}, ErrDuplicateID},
		{"inverted range", Document{Version: 1, TimelineClips: []Clip{
			{ID: "a", SourceRef: "s", InTime: 3, OutTime: 1},
		}}, ErrInvalidRange},
		{"bad track", Document{Version: 1, TimelineClips: []Clip{
			{ID: "a", SourceRef: "s", OutTime: 1, Track: 3},
		}}, ErrInvalidTrack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.doc.Snapshot(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

package history

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cutroom/cutroom-agent/internal/timeline"
)

func snapshotWith(t *testing.T, n int) timeline.Snapshot {
	t.Helper()
	clips := make([]timeline.Clip, n)
	for i := range clips {
		clips[i] = timeline.Clip{ID: fmt.Sprintf("c%d", i), SourceRef: "src", OutTime: 1}
	}
	s, err := timeline.NewSnapshot(clips)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUndoRedo(t *testing.T) {
	l := New(10, snapshotWith(t, 0))
	l.Push("one", snapshotWith(t, 1))
	l.Push("two", snapshotWith(t, 2))

	s, err := l.Undo()
	if err != nil || s.Len(timeline.TrackMain) != 1 {
		t.Fatalf("Undo = %v, %v", s, err)
	}
	s, _ = l.Undo()
	if s.Len(timeline.TrackMain) != 0 {
		t.Fatalf("second undo = %v", s)
	}
	if _, err := l.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("undo past start err = %v", err)
	}

	s, err = l.Redo()
	if err != nil || s.Len(timeline.TrackMain) != 1 {
		t.Fatalf("Redo = %v, %v", s, err)
	}
	l.Redo()
	if _, err := l.Redo(); !errors.Is(err, ErrNothingToRedo) {
		t.Errorf("redo past end err = %v", err)
	}
}

func TestPushTruncatesRedo(t *testing.T) {
	l := New(10, snapshotWith(t, 0))
	l.Push("one", snapshotWith(t, 1))
	l.Push("two", snapshotWith(t, 2))
	l.Undo()
	l.Undo()

	l.Push("three", snapshotWith(t, 3))
	if l.CanRedo() {
		t.Error("push should discard the redo tail")
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want 2", l.Len())
	}
	if got := l.Current().Label; got != "three" {
		t.Errorf("current = %q", got)
	}
}

func TestCapacityBound(t *testing.T) {
	l := New(5, snapshotWith(t, 0))
	for i := 1; i <= 12; i++ {
		l.Push(fmt.Sprint(i), snapshotWith(t, i))
	}
	if l.Len() != 5 {
		t.Fatalf("Len = %d, want 5", l.Len())
	}
	entries := l.Entries()
	if entries[0].Label != "8" || entries[4].Label != "12" {
		t.Errorf("retained %q..%q, want 8..12", entries[0].Label, entries[4].Label)
	}
	for i := 0; i < 4; i++ {
		if _, err := l.Undo(); err != nil {
			t.Fatalf("undo %d: %v", i, err)
		}
	}
	if l.CanUndo() {
		t.Error("undo should stop at the oldest retained entry")
	}
	if got := l.Current().Snapshot.Len(timeline.TrackMain); got != 8 {
		t.Errorf("oldest snapshot has %d clips, want 8", got)
	}
}

func TestCapacityIsClamped(t *testing.T) {
	if got := New(500, snapshotWith(t, 0)).Capacity(); got != MaxCapacity {
		t.Errorf("Capacity = %d, want %d", got, MaxCapacity)
	}
	if got := New(0, snapshotWith(t, 0)).Capacity(); got != MaxCapacity {
		t.Errorf("Capacity = %d, want %d", got, MaxCapacity)
	}
}

func TestPushSkipsIdenticalSnapshot(t *testing.T) {
	l := New(10, snapshotWith(t, 1))
	if l.Push("same", snapshotWith(t, 1)) {
		t.Error("identical snapshot should not be recorded")
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestPushIdenticalAfterUndoKeepsRedo(t *testing.T) {
	l := New(10, snapshotWith(t, 0))
	l.Push("one", snapshotWith(t, 1))
	l.Push("two", snapshotWith(t, 2))
	if _, err := l.Undo(); err != nil {
		t.Fatal(err)
	}

	if l.Push("noop", snapshotWith(t, 1)) {
		t.Fatal("identical snapshot should not be recorded")
	}
	if !l.CanRedo() || l.Len() != 3 || l.Cursor() != 1 {
		t.Fatalf("after no-op push: canRedo=%v len=%d cursor=%d", l.CanRedo(), l.Len(), l.Cursor())
	}
	s, err := l.Redo()
	if err != nil || s.Len(timeline.TrackMain) != 2 {
		t.Errorf("Redo = %v, %v", s, err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	l := New(4, snapshotWith(t, 0))
	for i := 1; i <= 6; i++ {
		l.Push(fmt.Sprint(i), snapshotWith(t, i))
	}
	l.Undo()

	blob, err := EncodeCheckpoint(l.Checkpoint())
	if err != nil {
		t.Fatal(err)
	}
	cp, err := DecodeCheckpoint(blob)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := Restore(4, cp)
	if err != nil {
		t.Fatal(err)
	}

	if restored.Len() != l.Len() || restored.Cursor() != l.Cursor() {
		t.Fatalf("restored len/cursor = %d/%d, want %d/%d", restored.Len(), restored.Cursor(), l.Len(), l.Cursor())
	}
	if !restored.Current().Snapshot.Equal(l.Current().Snapshot) {
		t.Error("current snapshot differs after restore")
	}
	if !restored.CanRedo() {
		t.Error("redo entry lost in checkpoint")
	}
}

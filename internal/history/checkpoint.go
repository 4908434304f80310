package history

import (
	"fmt"

	"github.com/cutroom/cutroom-agent/internal/codec"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// Checkpoint is the persisted form of a Log.
type Checkpoint struct {
	Cursor  int               `json:"cursor"`
	Labels  []string          `json:"labels"`
	Entries [][]timeline.Clip `json:"entries"`
}

// Checkpoint captures the retained entries and cursor.
func (l *Log) Checkpoint() Checkpoint {
	entries := l.Entries()
	cp := Checkpoint{
		Cursor:  l.Cursor(),
		Labels:  make([]string, len(entries)),
		Entries: make([][]timeline.Clip, len(entries)),
	}
	for i, e := range entries {
		cp.Labels[i] = e.Label
		cp.Entries[i] = e.Snapshot.All()
	}
	return cp
}

// Restore rebuilds a log from a checkpoint.
func Restore(capacity int, cp Checkpoint) (*Log, error) {
	if len(cp.Entries) == 0 {
		return nil, fmt.Errorf("checkpoint has no entries")
	}
	if cp.Cursor < 0 || cp.Cursor >= len(cp.Entries) {
		return nil, fmt.Errorf("checkpoint cursor %d outside [0, %d)", cp.Cursor, len(cp.Entries))
	}

	snapshots := make([]timeline.Snapshot, len(cp.Entries))
	for i, clips := range cp.Entries {
		s, err := timeline.NewSnapshot(clips)
		if err != nil {
			return nil, fmt.Errorf("checkpoint entry %d: %w", i, err)
		}
		snapshots[i] = s
	}

	l := New(capacity, snapshots[0])
	l.slots[0].Label = label(cp.Labels, 0)
	for i := 1; i < len(snapshots); i++ {
		l.Push(label(cp.Labels, i), snapshots[i])
	}
	// Entries dropped by capacity shift the cursor down.
	cursor := cp.Cursor - (len(snapshots) - l.Len())
	if cursor < 0 {
		cursor = 0
	}
	l.mu.Lock()
	l.cursor = cursor
	l.mu.Unlock()
	return l, nil
}

func label(labels []string, i int) string {
	if i < len(labels) {
		return labels[i]
	}
	return ""
}

// EncodeCheckpoint packs a checkpoint with lz4, which favours speed over ratio.
func EncodeCheckpoint(cp Checkpoint) ([]byte, error) {
	blob, _, err := codec.EncodeBlob(cp, codec.CompressionLZ4)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history checkpoint: %w", err)
	}
	return blob, nil
}

// DecodeCheckpoint reverses EncodeCheckpoint.
func DecodeCheckpoint(blob []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := codec.DecodeBlob(blob, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to decode history checkpoint: %w", err)
	}
	return cp, nil
}

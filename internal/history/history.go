// Package history keeps a bounded undo/redo log of timeline snapshots.
//
// Snapshots live in a fixed ring of slots referenced by index. Pushing past
// capacity overwrites the oldest slot; pushing after an undo discards the
// redo tail.
package history

import (
	"errors"
	"sync"

	"github.com/cutroom/cutroom-agent/internal/codec"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// MaxCapacity bounds the number of retained snapshots.
const MaxCapacity = 50

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Entry is one retained snapshot.
type Entry struct {
	Seq      uint64
	Label    string
	Snapshot timeline.Snapshot
	Digest   codec.Digest
}

// Log is a bounded snapshot history with a cursor. All methods are safe for
// concurrent use.
type Log struct {
	mu      sync.Mutex
	slots   []Entry
	first   int // slot of the oldest retained entry
	count   int // retained entries
	cursor  int // logical index of the current entry
	nextSeq uint64
}

// New creates a log holding initial as its only entry. Capacity is clamped
// to [1, MaxCapacity].
func New(capacity int, initial timeline.Snapshot) *Log {
	if capacity < 1 || capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	l := &Log{slots: make([]Entry, capacity)}
	l.slots[0] = l.entry("initial", initial)
	l.count = 1
	return l
}

func (l *Log) entry(label string, s timeline.Snapshot) Entry {
	l.nextSeq++
	digest, err := Fingerprint(s)
	if err != nil {
		digest = codec.Digest{}
	}
	return Entry{Seq: l.nextSeq, Label: label, Snapshot: s, Digest: digest}
}

// Fingerprint hashes the clip content of s.
func Fingerprint(s timeline.Snapshot) (codec.Digest, error) {
	return codec.DigestOf(s.All())
}

func (l *Log) slot(logical int) int {
	return (l.first + logical) % len(l.slots)
}

// Push records s as the new current state and drops any redo entries. A
// snapshot identical to the current one is not a mutation: nothing is
// recorded and the redo entries stay available. Push reports whether an
// entry was added.
func (l *Log) Push(label string, s timeline.Snapshot) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(label, s)
	current := l.slots[l.slot(l.cursor)]
	if !e.Digest.IsZero() && e.Digest == current.Digest {
		return false
	}

	l.count = l.cursor + 1
	if l.count == len(l.slots) {
		l.slots[l.first] = Entry{}
		l.first = (l.first + 1) % len(l.slots)
		l.count--
	}
	l.slots[l.slot(l.count)] = e
	l.count++
	l.cursor = l.count - 1
	return true
}

// Undo moves the cursor back one entry and returns that snapshot.
func (l *Log) Undo() (timeline.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cursor == 0 {
		return timeline.Snapshot{}, ErrNothingToUndo
	}
	l.cursor--
	return l.slots[l.slot(l.cursor)].Snapshot, nil
}

// Redo moves the cursor forward one entry and returns that snapshot.
func (l *Log) Redo() (timeline.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cursor >= l.count-1 {
		return timeline.Snapshot{}, ErrNothingToRedo
	}
	l.cursor++
	return l.slots[l.slot(l.cursor)].Snapshot, nil
}

// Current returns the entry under the cursor.
func (l *Log) Current() Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slots[l.slot(l.cursor)]
}

// CanUndo reports whether Undo would succeed.
func (l *Log) CanUndo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor > 0
}

// CanRedo reports whether Redo would succeed.
func (l *Log) CanRedo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor < l.count-1
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Cursor returns the logical index of the current entry.
func (l *Log) Cursor() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Capacity returns the maximum number of retained entries.
func (l *Log) Capacity() int { return len(l.slots) }

// Entries returns the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, l.count)
	for i := range out {
		out[i] = l.slots[l.slot(i)]
	}
	return out
}

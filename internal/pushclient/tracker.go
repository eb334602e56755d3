package pushclient

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// DefaultHighlightWindow is how long a changed note stays highlighted.
const DefaultHighlightWindow = 2500 * time.Millisecond

type trackedEntry struct {
	timer clock.Timer
}

// Tracker keeps the set of recently changed notes. Every entry owns one
// eviction timer; DisposeAll must be called when the owning view goes away.
type Tracker struct {
	clock    clock.Clock
	window   time.Duration
	onChange func()

	mu       sync.Mutex
	entries  map[string]*trackedEntry
	disposed bool
}

// NewTracker returns a tracker whose entries expire after window. onChange,
// if set, is called after an entry is evicted by its timer.
func NewTracker(clk clock.Clock, window time.Duration, onChange func()) *Tracker {
	if clk == nil {
		clk = clock.WallClock
	}
	if window <= 0 {
		window = DefaultHighlightWindow
	}
	return &Tracker{
		clock:    clk,
		window:   window,
		onChange: onChange,
		entries:  make(map[string]*trackedEntry),
	}
}

// Mark highlights noteID, restarting its window if it was already marked.
func (t *Tracker) Mark(noteID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	if previous, ok := t.entries[noteID]; ok {
		previous.timer.Stop()
	}
	entry := &trackedEntry{}
	entry.timer = t.clock.AfterFunc(t.window, func() { t.expire(noteID, entry) })
	t.entries[noteID] = entry
}

func (t *Tracker) expire(noteID string, entry *trackedEntry) {
	t.mu.Lock()
	// A timer stopped too late to cancel its callback must not evict the
	// entry that replaced it.
	if current, ok := t.entries[noteID]; !ok || current != entry {
		t.mu.Unlock()
		return
	}
	delete(t.entries, noteID)
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange()
	}
}

func (t *Tracker) IsHighlighted(noteID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[noteID]
	return ok
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// DisposeAll cancels every pending timer and clears the set. Later Marks
// are ignored.
func (t *Tracker) DisposeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for noteID, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, noteID)
	}
	t.disposed = true
}

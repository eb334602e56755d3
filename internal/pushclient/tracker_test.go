package pushclient

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackerEpoch = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

const (
	settle = 50 * time.Millisecond
	wait   = 2 * time.Second
	tick   = 5 * time.Millisecond
)

func TestTrackerMarkExpiresAfterWindow(t *testing.T) {
	clk := testclock.NewClock(trackerEpoch)
	var evictions atomic.Int32
	tr := NewTracker(clk, 2*time.Second, func() { evictions.Add(1) })

	tr.Mark("n1")
	assert.True(t, tr.IsHighlighted("n1"))
	assert.False(t, tr.IsHighlighted("n2"))

	clk.Advance(1999 * time.Millisecond)
	assert.Never(t, func() bool { return !tr.IsHighlighted("n1") }, settle, tick)

	clk.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return evictions.Load() == 1 }, wait, tick)
	assert.False(t, tr.IsHighlighted("n1"))
	assert.Zero(t, tr.Len())
}

func TestTrackerRemarkExtendsInsteadOfStacking(t *testing.T) {
	clk := testclock.NewClock(trackerEpoch)
	var evictions atomic.Int32
	tr := NewTracker(clk, 2*time.Second, func() { evictions.Add(1) })

	tr.Mark("n1")
	clk.Advance(1500 * time.Millisecond)
	tr.Mark("n1")

	// Past the first mark's window, inside the second's.
	clk.Advance(time.Second)
	assert.Never(t, func() bool { return !tr.IsHighlighted("n1") }, settle, tick)
	assert.Zero(t, evictions.Load())

	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return evictions.Load() == 1 }, wait, tick)
	assert.False(t, tr.IsHighlighted("n1"))
	assert.Never(t, func() bool { return evictions.Load() > 1 }, settle, tick)
}

func TestTrackerEntriesExpireIndependently(t *testing.T) {
	clk := testclock.NewClock(trackerEpoch)
	tr := NewTracker(clk, 2*time.Second, nil)

	tr.Mark("n1")
	clk.Advance(time.Second)
	tr.Mark("n2")
	assert.Equal(t, 2, tr.Len())

	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return !tr.IsHighlighted("n1") }, wait, tick)
	assert.True(t, tr.IsHighlighted("n2"))

	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return tr.Len() == 0 }, wait, tick)
}

func TestTrackerDisposeAllCancelsTimers(t *testing.T) {
	clk := testclock.NewClock(trackerEpoch)
	var evictions atomic.Int32
	tr := NewTracker(clk, 2*time.Second, func() { evictions.Add(1) })

	tr.Mark("n1")
	tr.Mark("n2")
	tr.DisposeAll()
	assert.Zero(t, tr.Len())
	assert.False(t, tr.IsHighlighted("n1"))

	clk.Advance(time.Minute)
	assert.Never(t, func() bool { return evictions.Load() != 0 }, settle, tick)

	tr.Mark("n3")
	assert.False(t, tr.IsHighlighted("n3"), "marks after dispose are ignored")
}

func TestTrackerDefaults(t *testing.T) {
	tr := NewTracker(nil, 0, nil)
	assert.Equal(t, DefaultHighlightWindow, tr.window)
	tr.Mark("n1")
	assert.True(t, tr.IsHighlighted("n1"))
	tr.DisposeAll()
}

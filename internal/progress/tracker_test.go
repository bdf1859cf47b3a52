package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/clock"
)

var start = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func TestTrackerDerivedRates(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(start)
	tr := NewTracker(100, clk, nil)
	tr.Start()
	clk.Advance(10 * time.Second)
	tr.Increment(20, 15, 5, "0001234-25.2023.1.00.0000")

	snap := tr.Stats()
	assert.Equal(t, 20, snap.Processed)
	assert.Equal(t, 15, snap.Successful)
	assert.Equal(t, 5, snap.Failed)
	assert.Equal(t, "0001234-25.2023.1.00.0000", snap.CurrentItem)
	assert.Equal(t, 10*time.Second, snap.Elapsed)
	assert.InDelta(t, 2.0, snap.ItemsPerSecond, 1e-9)
	assert.Equal(t, 40*time.Second, snap.EstimatedRemaining)
	assert.InDelta(t, 20.0, snap.CompletionPercent, 1e-9)
	assert.InDelta(t, 75.0, snap.SuccessRate, 1e-9)
}

func TestTrackerZeroETA(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(start)
	tr := NewTracker(10, clk, nil)
	assert.Zero(t, tr.Stats().EstimatedRemaining, "not started")

	tr.Start()
	clk.Advance(time.Second)
	assert.Zero(t, tr.Stats().EstimatedRemaining, "nothing processed")
	assert.Zero(t, tr.Stats().ItemsPerSecond)

	tr.Increment(10, 10, 0, "")
	assert.Zero(t, tr.Stats().EstimatedRemaining, "nothing remaining")
}

func TestTrackerCallbacksIsolatePanics(t *testing.T) {
	t.Parallel()

	tr := NewTracker(3, clock.NewManual(start), nil)
	var seen []int
	tr.AddCallback("boom", func(Snapshot) { panic("callback failure") })
	tr.AddCallback("record", func(s Snapshot) { seen = append(seen, s.Processed) })

	require.NotPanics(t, func() {
		tr.Increment(1, 1, 0, "a")
		tr.Increment(1, 0, 1, "b")
	})
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, []string{"boom", "record"}, tr.Callbacks())

	tr.RemoveCallback("record")
	tr.RemoveCallback("missing")
	tr.Increment(1, 1, 0, "")
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, "b", tr.Stats().CurrentItem)
}

func TestTrackerCallbackMayReadStats(t *testing.T) {
	t.Parallel()

	tr := NewTracker(2, clock.NewManual(start), nil)
	var inner Snapshot
	tr.AddCallback("reader", func(Snapshot) { inner = tr.Stats() })
	tr.Increment(1, 1, 0, "x")
	assert.Equal(t, 1, inner.Processed)

	tr.SetTotal(4)
	assert.Equal(t, 4, inner.Total)
}

package sentinel

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCountersAndWindows(t *testing.T) {
	stats := NewStats()
	clock := time.Now()
	stats.now = func() time.Time { return clock }

	stats.Inc(CounterObservations)
	stats.Inc(CounterObservations)
	stats.Inc(CounterFilterHits)

	assert.Equal(t, uint64(2), stats.Get(CounterObservations))
	snapshot := stats.Snapshot()
	assert.Equal(t, uint64(1), snapshot.Totals[CounterFilterHits])
	assert.Contains(t, snapshot.Totals, CounterUnavailable)

	// The hourly window rolls over, the daily one keeps counting.
	clock = clock.Add(2 * time.Hour)
	stats.Inc(CounterObservations)

	assert.Equal(t, uint64(1), stats.windows[time.Hour].Counts[CounterObservations])
	assert.Equal(t, uint64(3), stats.windows[24*time.Hour].Counts[CounterObservations])
	assert.Equal(t, uint64(3), stats.Get(CounterObservations))
}

func TestStatsAlertHistoryIsCapped(t *testing.T) {
	stats := NewStats()
	for i := 0; i < alertHistorySize+10; i++ {
		stats.RecordAlert(AlertEvent{Kind: AlertKindHotlistConfirmed, ID: fmt.Sprintf("X%d", i)})
	}

	recent := stats.RecentAlerts(3)
	require.Len(t, recent, 3)
	assert.Equal(t, fmt.Sprintf("X%d", alertHistorySize+9), recent[0].ID)
	assert.Len(t, stats.alertHistory, alertHistorySize)
}

func TestStatsNilIsSafe(t *testing.T) {
	var stats *Stats
	assert.NotPanics(t, func() {
		stats.Inc(CounterObservations)
		stats.RecordAlert(AlertEvent{})
	})
}

func TestStatsGetStats(t *testing.T) {
	stats := NewStats()
	stats.Inc(CounterConfirmed)

	out := stats.GetStats()
	totals, ok := out["totals"].(map[string]uint64)
	require.True(t, ok)
	assert.Equal(t, uint64(1), totals["confirmed"])
	assert.Contains(t, out, "windows")
	assert.Contains(t, out, "recent_alerts")
}

package sentinel

import (
	"sync"
	"time"
)

// alertHistorySize is the number of confirmed alerts kept in memory
const alertHistorySize = 100

// Counter names a tracked session statistic
type Counter string

const (
	CounterObservations       Counter = "observations"
	CounterFilterHits         Counter = "filter_hits"
	CounterPassiveCredits     Counter = "passive_credits"
	CounterVerifications      Counter = "verifications"
	CounterConfirmed          Counter = "confirmed"
	CounterRefuted            Counter = "refuted"
	CounterUnavailable        Counter = "unavailable"
	CounterSuppressed         Counter = "suppressed_duplicates"
	CounterSourceErrors       Counter = "source_errors"
	CounterIgnoredObservation Counter = "ignored_observations"
)

var allCounters = []Counter{
	CounterObservations,
	CounterFilterHits,
	CounterPassiveCredits,
	CounterVerifications,
	CounterConfirmed,
	CounterRefuted,
	CounterUnavailable,
	CounterSuppressed,
	CounterSourceErrors,
	CounterIgnoredObservation,
}

// TimeWindow counts events over a rolling period
type TimeWindow struct {
	Duration  time.Duration
	StartTime time.Time
	Counts    map[Counter]uint64
}

// Stats tracks counters for the engine since process start
type Stats struct {
	mu           sync.RWMutex
	totals       map[Counter]uint64
	windows      map[time.Duration]*TimeWindow
	alertHistory []AlertEvent
	lastAlert    time.Time
	now          func() time.Time
}

// StatsSnapshot is a copy of the totals
type StatsSnapshot struct {
	Totals    map[Counter]uint64 `json:"totals"`
	LastAlert time.Time          `json:"lastAlert,omitempty"`
}

// NewStats creates a tracker with 1h and 24h windows
func NewStats() *Stats {
	now := time.Now()
	return &Stats{
		totals: make(map[Counter]uint64),
		windows: map[time.Duration]*TimeWindow{
			time.Hour:      {Duration: time.Hour, StartTime: now, Counts: make(map[Counter]uint64)},
			24 * time.Hour: {Duration: 24 * time.Hour, StartTime: now, Counts: make(map[Counter]uint64)},
		},
		alertHistory: make([]AlertEvent, 0, alertHistorySize),
		now:          time.Now,
	}
}

// Inc adds one to counter
func (s *Stats) Inc(counter Counter) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.totals[counter]++
	for _, window := range s.windows {
		if now.Sub(window.StartTime) > window.Duration {
			window.StartTime = now
			window.Counts = make(map[Counter]uint64)
		}
		window.Counts[counter]++
	}
}

// RecordAlert keeps a confirmed alert in the recent history
func (s *Stats) RecordAlert(alert AlertEvent) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastAlert = alert.Timestamp
	s.alertHistory = append(s.alertHistory, alert)
	if len(s.alertHistory) > alertHistorySize {
		s.alertHistory = s.alertHistory[1:]
	}
}

// Get returns the total for counter
func (s *Stats) Get(counter Counter) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals[counter]
}

// Snapshot copies the totals
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[Counter]uint64, len(allCounters))
	for _, c := range allCounters {
		totals[c] = s.totals[c]
	}
	return StatsSnapshot{Totals: totals, LastAlert: s.lastAlert}
}

// RecentAlerts returns up to limit alerts, newest first
func (s *Stats) RecentAlerts(limit int) []AlertEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]AlertEvent, 0, limit)
	for i := len(s.alertHistory) - 1; i >= 0 && len(alerts) < limit; i-- {
		alerts = append(alerts, s.alertHistory[i])
	}
	return alerts
}

// GetStats returns current statistics
func (s *Stats) GetStats() map[string]interface{} {
	snapshot := s.Snapshot()

	s.mu.RLock()
	windows := make(map[string]interface{})
	for duration, window := range s.windows {
		counts := make(map[string]uint64, len(window.Counts))
		for c, v := range window.Counts {
			counts[string(c)] = v
		}
		windows[duration.String()] = map[string]interface{}{
			"start":  window.StartTime,
			"counts": counts,
		}
	}
	s.mu.RUnlock()

	totals := make(map[string]uint64, len(snapshot.Totals))
	for c, v := range snapshot.Totals {
		totals[string(c)] = v
	}

	return map[string]interface{}{
		"totals":        totals,
		"windows":       windows,
		"last_alert":    snapshot.LastAlert,
		"recent_alerts": s.RecentAlerts(10),
	}
}

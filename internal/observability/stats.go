package observability

import (
	"sync/atomic"
	"time"
)

// StatsTracker holds process-wide pipeline counters. It is constructed by the
// process root and handed to each component; nothing in this package is global
// mutable state. All methods are safe for concurrent use.
type StatsTracker struct {
	played  atomic.Int64
	skipped atomic.Int64
	dropped atomic.Int64
	errors  atomic.Int64

	lastPlayback atomic.Int64 // unix nanoseconds of the last successful playback
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	MessagesPlayed  int64     `json:"messages_played"`
	MessagesSkipped int64     `json:"messages_skipped"`
	MessagesDropped int64     `json:"messages_dropped"`
	Errors          int64     `json:"errors"`
	LastPlayback    time.Time `json:"last_playback"`
}

// NewStatsTracker creates an empty stats tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// IncPlayed records a completed playback and stamps the playback clock.
func (s *StatsTracker) IncPlayed() {
	s.played.Add(1)
	s.lastPlayback.Store(time.Now().UnixNano())
}

// IncSkipped records an item skipped without playback.
func (s *StatsTracker) IncSkipped() {
	s.skipped.Add(1)
}

// IncDropped records an item dropped by overflow or disconnect.
func (s *StatsTracker) IncDropped() {
	s.dropped.Add(1)
}

// IncErrors records a per-item failure.
func (s *StatsTracker) IncErrors() {
	s.errors.Add(1)
}

// LastPlayback returns the time of the last successful playback, or the zero
// time if nothing has played yet.
func (s *StatsTracker) LastPlayback() time.Time {
	ns := s.lastPlayback.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Snapshot returns a copy of the current counters.
func (s *StatsTracker) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		MessagesPlayed:  s.played.Load(),
		MessagesSkipped: s.skipped.Load(),
		MessagesDropped: s.dropped.Load(),
		Errors:          s.errors.Load(),
		LastPlayback:    s.LastPlayback(),
	}
}

// Reset zeroes all counters.
func (s *StatsTracker) Reset() {
	s.played.Store(0)
	s.skipped.Store(0)
	s.dropped.Store(0)
	s.errors.Store(0)
	s.lastPlayback.Store(0)
}

package observability

import (
	"sync"
	"testing"
)

func TestStatsTracker_Counters(t *testing.T) {
	stats := NewStatsTracker()

	stats.IncPlayed()
	stats.IncPlayed()
	stats.IncSkipped()
	stats.IncDropped()
	stats.IncErrors()

	snap := stats.Snapshot()
	if snap.MessagesPlayed != 2 {
		t.Errorf("Expected 2 played, got %d", snap.MessagesPlayed)
	}
	if snap.MessagesSkipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", snap.MessagesSkipped)
	}
	if snap.MessagesDropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", snap.MessagesDropped)
	}
	if snap.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", snap.Errors)
	}
}

func TestStatsTracker_LastPlayback(t *testing.T) {
	stats := NewStatsTracker()

	if !stats.LastPlayback().IsZero() {
		t.Error("Expected zero last playback before any playback")
	}

	stats.IncPlayed()
	if stats.LastPlayback().IsZero() {
		t.Error("Expected last playback to be stamped after IncPlayed")
	}
}

func TestStatsTracker_Reset(t *testing.T) {
	stats := NewStatsTracker()
	stats.IncPlayed()
	stats.IncErrors()

	stats.Reset()

	snap := stats.Snapshot()
	if snap.MessagesPlayed != 0 || snap.Errors != 0 {
		t.Errorf("Expected zeroed counters after reset, got %+v", snap)
	}
	if !snap.LastPlayback.IsZero() {
		t.Error("Expected zero last playback after reset")
	}
}

func TestStatsTracker_Concurrent(t *testing.T) {
	stats := NewStatsTracker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				stats.IncPlayed()
			}
		}()
	}
	wg.Wait()

	if got := stats.Snapshot().MessagesPlayed; got != 1000 {
		t.Errorf("Expected 1000 played, got %d", got)
	}
}

package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/queue"
)

func audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, testWAV(64), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

type playerFixture struct {
	queues *queue.Manager
	conn   *ConnectionManager
	dialer *fakeDialer
	stats  *observability.StatsTracker
	player *Player
}

func startPlayer(t *testing.T, connect bool, waitTimeout time.Duration) *playerFixture {
	t.Helper()
	dialer := &fakeDialer{}
	conn := newTestManager(dialer)
	if connect {
		if err := conn.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	}

	queues := queue.NewManager(10)
	stats := observability.NewStatsTracker()
	p := NewPlayer(queues, conn, stats, waitTimeout, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(cancel)

	return &playerFixture{queues: queues, conn: conn, dialer: dialer, stats: stats, player: p}
}

func TestPlayer_PlaysClip(t *testing.T) {
	fx := startPlayer(t, true, time.Second)
	path := audioFile(t)

	fx.queues.EnqueueAudio(queue.AudioItem{Path: path, GroupID: "g1", Seq: 0, Priority: 5, Size: 108})
	waitFor(t, "playback", func() bool { return fx.stats.Snapshot().MessagesPlayed == 1 })

	tr := fx.dialer.lastTr
	played := tr.playedPaths()
	if len(played) != 1 || played[0] != path {
		t.Errorf("Expected clip %s played, got %v", path, played)
	}

	// Backing file is released after playback.
	waitFor(t, "file removal", func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})

	tr.mu.Lock()
	speaking := append([]bool(nil), tr.speaking...)
	tr.mu.Unlock()
	if len(speaking) != 2 || !speaking[0] || speaking[1] {
		t.Errorf("Expected speaking toggled on then off, got %v", speaking)
	}

	if fx.stats.Snapshot().LastPlayback.IsZero() {
		t.Error("Expected playback clock to be stamped")
	}
}

func TestPlayer_DropsWhenDisconnected(t *testing.T) {
	fx := startPlayer(t, false, 50*time.Millisecond)
	path := audioFile(t)

	fx.queues.EnqueueAudio(queue.AudioItem{Path: path, GroupID: "g1", Priority: 5})
	waitFor(t, "drop", func() bool { return fx.stats.Snapshot().MessagesDropped == 1 })

	if fx.stats.Snapshot().MessagesPlayed != 0 {
		t.Error("Expected nothing played while disconnected")
	}
	// The clip file is still released.
	waitFor(t, "file removal", func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestPlayer_ErrorDoesNotStallLoop(t *testing.T) {
	fx := startPlayer(t, true, time.Second)
	fx.dialer.lastTr.setPlayErr(errors.New("stream reset"))

	fx.queues.EnqueueAudio(queue.AudioItem{Path: audioFile(t), GroupID: "g1", Priority: 5})
	waitFor(t, "error", func() bool { return fx.stats.Snapshot().Errors == 1 })

	fx.dialer.lastTr.setPlayErr(nil)
	fx.queues.EnqueueAudio(queue.AudioItem{Path: audioFile(t), GroupID: "g2", Priority: 5})
	waitFor(t, "recovery playback", func() bool { return fx.stats.Snapshot().MessagesPlayed == 1 })
}

func TestPlayer_SkipClearsCurrentGroup(t *testing.T) {
	fx := startPlayer(t, true, time.Second)
	fx.dialer.lastTr.mu.Lock()
	fx.dialer.lastTr.playDelay = 500 * time.Millisecond
	fx.dialer.lastTr.mu.Unlock()

	// First clip starts playing; the rest of its group waits in the queue.
	fx.queues.EnqueueAudio(queue.AudioItem{Path: audioFile(t), GroupID: "g1", Seq: 0, Priority: 5})
	waitFor(t, "playback start", func() bool { _, playing := fx.player.Current(); return playing })

	fx.queues.EnqueueAudio(queue.AudioItem{Path: audioFile(t), GroupID: "g1", Seq: 1, Priority: 5})
	fx.queues.EnqueueAudio(queue.AudioItem{Path: audioFile(t), GroupID: "g1", Seq: 2, Priority: 5})

	removed := fx.player.Skip()
	if removed != 2 {
		t.Errorf("Expected 2 queued items removed, got %d", removed)
	}
	if fx.queues.SizeAudio() != 0 {
		t.Errorf("Expected empty audio queue after skip, got %d", fx.queues.SizeAudio())
	}
}

func TestPlayer_SkipWithoutPlayback(t *testing.T) {
	fx := startPlayer(t, true, time.Second)

	if removed := fx.player.Skip(); removed != 0 {
		t.Errorf("Expected no-op skip, got %d", removed)
	}
}

func TestPlayer_Current(t *testing.T) {
	fx := startPlayer(t, true, time.Second)

	group, playing := fx.player.Current()
	if playing || group != "" {
		t.Errorf("Expected idle player, got group=%q playing=%v", group, playing)
	}
}

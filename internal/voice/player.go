package voice

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/queue"
)

// Player consumes audio items and streams them into the voice channel one at
// a time. Items that cannot be played within the connection wait are dropped
// so the queue never backs up behind a dead connection.
type Player struct {
	queues      *queue.Manager
	conn        *ConnectionManager
	stats       *observability.StatsTracker
	waitTimeout time.Duration // how long to wait for a connection per item
	playTimeout time.Duration // hard cap per clip
	logger      zerolog.Logger

	mu           sync.Mutex
	currentGroup string
	playing      bool
}

// NewPlayer creates a playback worker.
func NewPlayer(queues *queue.Manager, conn *ConnectionManager, stats *observability.StatsTracker, waitTimeout, playTimeout time.Duration) *Player {
	return &Player{
		queues:      queues,
		conn:        conn,
		stats:       stats,
		waitTimeout: waitTimeout,
		playTimeout: playTimeout,
		logger:      observability.ComponentLogger("player"),
	}
}

// Run processes audio items until ctx is cancelled.
func (p *Player) Run(ctx context.Context) {
	p.logger.Info().Msg("Playback worker started")
	for {
		item, err := p.queues.DequeueAudio(ctx)
		if err != nil {
			p.logger.Info().Msg("Playback worker stopping")
			return
		}
		p.play(ctx, item)
	}
}

func (p *Player) play(ctx context.Context, item queue.AudioItem) {
	defer item.Release()

	if !p.conn.WaitConnected(ctx, p.waitTimeout) {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn().
			Str("group_id", item.GroupID).
			Dur("waited", p.waitTimeout).
			Msg("No voice connection, dropping clip")
		p.stats.IncDropped()
		observability.RecordDrop("disconnected")
		return
	}

	tr := p.conn.Transport()
	if tr == nil {
		p.stats.IncDropped()
		observability.RecordDrop("disconnected")
		return
	}

	// The transport streams one clip at a time; wait out any straggler.
	for i := 0; tr.IsPlaying() && i < 30; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}

	p.setCurrent(item.GroupID, true)
	defer p.setCurrent("", false)

	if err := tr.SetSpeaking(true); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to set speaking indicator")
	}
	defer func() {
		if err := tr.SetSpeaking(false); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to clear speaking indicator")
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, p.playTimeout)
	start := time.Now()
	err := tr.Play(pctx, item.Path)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Error().Err(err).
			Str("group_id", item.GroupID).
			Int("seq", item.Seq).
			Msg("Playback failed")
		p.stats.IncErrors()
		observability.RecordPlayback(false, 0)
		observability.RecordError("playback", "player")
		return
	}

	p.stats.IncPlayed()
	observability.RecordPlayback(true, elapsed.Seconds())
	p.logger.Debug().
		Str("group_id", item.GroupID).
		Int("seq", item.Seq).
		Dur("duration", elapsed).
		Msg("Clip played")
}

func (p *Player) setCurrent(groupID string, playing bool) {
	p.mu.Lock()
	p.currentGroup = groupID
	p.playing = playing
	p.mu.Unlock()
}

// Current returns the group being played right now, if any.
func (p *Player) Current() (groupID string, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentGroup, p.playing
}

// Skip clears every queued item belonging to the message currently being
// played. Returns the number of items removed; zero when nothing is playing.
func (p *Player) Skip() int {
	group, playing := p.Current()
	if !playing || group == "" {
		return 0
	}
	removed := p.queues.ClearGroup(group)
	p.logger.Info().Str("group_id", group).Int("removed", removed).Msg("Skipped current message")
	return removed
}

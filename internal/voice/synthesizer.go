package voice

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/queue"
	"github.com/ayatane/voicebridge/internal/tts"
)

// SpeakerResolver supplies per-user voice preferences mapped to the active
// engine. Implemented by the settings store.
type SpeakerResolver interface {
	SpeakerFor(userID, activeEngine string, defaults map[string]int) (int, bool)
}

// APIHealthRecorder receives TTS call outcomes for failure-window tracking.
// Implemented by the health monitor.
type APIHealthRecorder interface {
	RecordAPIFailure()
	RecordAPISuccess()
}

// Synthesizer consumes text items, calls the active TTS engine and enqueues
// the resulting audio. One failing item never stalls the loop.
type Synthesizer struct {
	queues   *queue.Manager
	registry *tts.Registry
	resolver SpeakerResolver
	defaults map[string]int // per-engine configured default speaker
	stats    *observability.StatsTracker
	health   APIHealthRecorder
	timeout  time.Duration
	maxClip  int
	tempDir  string
	logger   zerolog.Logger
}

// SynthesizerOptions configures a Synthesizer.
type SynthesizerOptions struct {
	Queues   *queue.Manager
	Registry *tts.Registry
	Resolver SpeakerResolver
	Defaults map[string]int
	Stats    *observability.StatsTracker
	Health   APIHealthRecorder // optional
	Timeout  time.Duration
	MaxClip  int
	TempDir  string // defaults to the system temp dir
}

// NewSynthesizer creates a synthesis worker.
func NewSynthesizer(opts SynthesizerOptions) *Synthesizer {
	return &Synthesizer{
		queues:   opts.Queues,
		registry: opts.Registry,
		resolver: opts.Resolver,
		defaults: opts.Defaults,
		stats:    opts.Stats,
		health:   opts.Health,
		timeout:  opts.Timeout,
		maxClip:  opts.MaxClip,
		tempDir:  opts.TempDir,
		logger:   observability.ComponentLogger("synthesizer"),
	}
}

// Run processes text items until ctx is cancelled.
func (s *Synthesizer) Run(ctx context.Context) {
	s.logger.Info().Msg("Synthesis worker started")
	for {
		item, err := s.queues.DequeueText(ctx)
		if err != nil {
			s.logger.Info().Msg("Synthesis worker stopping")
			return
		}
		s.process(ctx, item)
	}
}

func (s *Synthesizer) process(ctx context.Context, item queue.TextItem) {
	text := strings.TrimSpace(item.Text)
	if text == "" {
		s.stats.IncSkipped()
		return
	}

	engine := s.registry.Active()
	if engine == nil {
		s.logger.Error().Msg("No active TTS engine")
		s.stats.IncErrors()
		observability.RecordError("no_engine", "synthesizer")
		return
	}

	speaker, ok := 0, false
	if s.resolver != nil {
		speaker, ok = s.resolver.SpeakerFor(item.UserID, engine.Name(), s.defaults)
	}
	if !ok {
		speaker = engine.DefaultSpeaker()
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	audio, err := engine.Synthesize(cctx, text, speaker)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		// A cancelled parent context is shutdown, not an engine fault.
		if ctx.Err() != nil && !errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return
		}
		s.logger.Error().Err(err).
			Str("engine", engine.Name()).
			Str("group_id", item.GroupID).
			Int("speaker_id", speaker).
			Msg("Synthesis failed")
		s.stats.IncErrors()
		observability.RecordSynthesis(engine.Name(), false, 0)
		observability.RecordError("synthesis", "synthesizer")
		if s.health != nil {
			s.health.RecordAPIFailure()
		}
		return
	}
	observability.RecordSynthesis(engine.Name(), true, elapsed.Seconds())
	if s.health != nil {
		s.health.RecordAPISuccess()
	}

	if !tts.ValidWAV(audio) {
		s.logger.Warn().Str("group_id", item.GroupID).Msg("Engine returned malformed WAV, dropping")
		s.stats.IncErrors()
		observability.RecordError("invalid_wav", "synthesizer")
		return
	}
	if len(audio) > s.maxClip {
		s.logger.Warn().
			Str("group_id", item.GroupID).
			Int("size", len(audio)).
			Int("limit", s.maxClip).
			Msg("Clip over size limit, dropping")
		s.stats.IncDropped()
		observability.RecordDrop("oversized")
		return
	}

	path, err := s.writeClip(audio)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to write audio file")
		s.stats.IncErrors()
		observability.RecordError("temp_file", "synthesizer")
		return
	}

	verdict, evicted := s.queues.EnqueueAudio(queue.AudioItem{
		Path:     path,
		GroupID:  item.GroupID,
		Seq:      item.Seq,
		Priority: item.Priority,
		Size:     int64(len(audio)),
	})
	if evicted != nil {
		s.stats.IncDropped()
		observability.RecordDrop("overflow")
		evicted.Release()
	}
	if verdict == queue.Dropped {
		s.stats.IncDropped()
		observability.RecordDrop("overflow")
		os.Remove(path)
		return
	}

	s.logger.Debug().
		Str("group_id", item.GroupID).
		Int("seq", item.Seq).
		Int("size", len(audio)).
		Dur("latency", elapsed).
		Msg("Clip synthesized")
}

func (s *Synthesizer) writeClip(audio []byte) (string, error) {
	f, err := os.CreateTemp(s.tempDir, "voicebridge-*.wav")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

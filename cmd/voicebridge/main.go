package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayatane/voicebridge/internal/api"
	"github.com/ayatane/voicebridge/internal/config"
	"github.com/ayatane/voicebridge/internal/health"
	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/queue"
	"github.com/ayatane/voicebridge/internal/settings"
	"github.com/ayatane/voicebridge/internal/tts"
	"github.com/ayatane/voicebridge/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("info", false)
		logger := observability.GetLogger()
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()
	logger.Info().
		Str("engine", cfg.TTSEngine).
		Str("channel", cfg.VoiceChannel).
		Str("port", cfg.Port).
		Msg("Starting voicebridge")

	stats := observability.NewStatsTracker()
	queues := queue.NewManager(cfg.MessageQueueSize)

	synthTimeout := time.Duration(cfg.SynthesisTimeout) * time.Second
	engineCfgs := cfg.Engines()
	engines := make(map[string]tts.Engine, len(engineCfgs))
	defaults := make(map[string]int, len(engineCfgs))
	for name, ec := range engineCfgs {
		engines[name] = tts.NewClient(name, ec.URL, ec.DefaultSpeaker, synthTimeout)
		defaults[name] = ec.DefaultSpeaker
	}
	registry := tts.NewRegistry(engines, cfg.TTSEngine)

	store, err := settings.Open(cfg.SettingsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open user settings")
	}

	limiter := voice.NewRateLimiter(cfg.RateLimitRequests)
	breaker := voice.NewCircuitBreaker(cfg.BreakerMaxFailures, time.Duration(cfg.BreakerResetTimeout)*time.Second)
	dialer := voice.NewGatewayDialer(cfg.VoiceGatewayURL)
	connMgr := voice.NewConnectionManager(dialer, cfg.VoiceChannel, limiter, breaker, voice.ReconnectPolicy{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.ReconnectMaxBackoff) * time.Millisecond,
	})

	monitor := health.NewMonitor(health.MonitorOptions{
		Probe:      func(ctx context.Context) error { return registry.Active().HealthCheck(ctx) },
		Connection: connMgr,
		Stats:      stats,
		Interval:   time.Duration(cfg.HealthCheckInterval) * time.Second,
		Conditions: health.DefaultConditions(cfg.MaxAPIFailures),
	})
	connMgr.OnDisconnect = monitor.RecordDisconnection

	synthesizer := voice.NewSynthesizer(voice.SynthesizerOptions{
		Queues:   queues,
		Registry: registry,
		Resolver: store,
		Defaults: defaults,
		Stats:    stats,
		Health:   monitor,
		Timeout:  synthTimeout,
		MaxClip:  cfg.MaxClipBytes,
	})
	player := voice.NewPlayer(queues, connMgr, stats,
		time.Duration(cfg.ConnectionWait)*time.Second,
		time.Duration(cfg.PlaybackTimeout)*time.Second)
	intake := voice.NewIntake(queues, nil, stats, cfg.MaxMessageLength, cfg.MaxChunkLength)

	apiServer := api.NewServer(api.ServerOptions{
		Connection:     connMgr,
		Queues:         queues,
		Intake:         intake,
		Player:         player,
		Stats:          stats,
		Monitor:        monitor,
		Registry:       registry,
		Settings:       store,
		MetricsEnabled: cfg.MetricsEnabled,
	})
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: apiServer.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go synthesizer.Run(ctx)
	go player.Run(ctx)
	monitor.Start(ctx)

	if err := connMgr.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial voice connection failed, retrying in background")
		go func() {
			if err := connMgr.Reconnect(ctx); err != nil {
				logger.Error().Err(err).Msg("Background reconnect failed")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case reason := <-monitor.Fatal():
		logger.Error().Str("reason", reason).Msg("Unrecoverable failure, shutting down")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	cancel()
	monitor.Stop()

	if discarded := queues.DrainAll(); discarded > 0 {
		logger.Info().Int("discarded", discarded).Msg("Drained pipeline queues")
	}
	if err := connMgr.Disconnect(); err != nil {
		logger.Warn().Err(err).Msg("Voice disconnect failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("Voicebridge stopped")
}

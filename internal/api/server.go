// Package api exposes the control surface over HTTP: pipeline status,
// playback commands, voice selection, and a websocket stream of live status.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ayatane/voicebridge/internal/health"
	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/queue"
	"github.com/ayatane/voicebridge/internal/settings"
	"github.com/ayatane/voicebridge/internal/tts"
	"github.com/ayatane/voicebridge/internal/voice"
)

// Server wires the control endpoints to the pipeline components.
type Server struct {
	conn           *voice.ConnectionManager
	queues         *queue.Manager
	intake         *voice.Intake
	player         *voice.Player
	stats          *observability.StatsTracker
	monitor        *health.Monitor
	registry       *tts.Registry
	settings       *settings.Store
	metricsEnabled bool
	logger         zerolog.Logger
	upgrader       websocket.Upgrader
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Connection     *voice.ConnectionManager
	Queues         *queue.Manager
	Intake         *voice.Intake
	Player         *voice.Player
	Stats          *observability.StatsTracker
	Monitor        *health.Monitor
	Registry       *tts.Registry
	Settings       *settings.Store
	MetricsEnabled bool
}

// NewServer creates the control server.
func NewServer(opts ServerOptions) *Server {
	return &Server{
		conn:           opts.Connection,
		queues:         opts.Queues,
		intake:         opts.Intake,
		player:         opts.Player,
		stats:          opts.Stats,
		monitor:        opts.Monitor,
		registry:       opts.Registry,
		settings:       opts.Settings,
		metricsEnabled: opts.MetricsEnabled,
		logger:         observability.ComponentLogger("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/message", s.handleMessage)
	mux.HandleFunc("/skip", s.handleSkip)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/reconnect", s.handleReconnect)
	mux.HandleFunc("/voice", s.handleVoice)
	mux.HandleFunc("/engine", s.handleEngine)
	mux.HandleFunc("/speakers", s.handleSpeakers)
	mux.HandleFunc("/ws/status", s.handleStatusStream)
	if s.metricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// StatusResponse is the full pipeline snapshot served by /status and the
// websocket stream.
type StatusResponse struct {
	ConnectionState    string                      `json:"connection_state"`
	Playing            bool                        `json:"playing"`
	CurrentGroup       string                      `json:"current_group,omitempty"`
	SynthesisQueueSize int                         `json:"synthesis_queue_size"`
	AudioQueueSize     int                         `json:"audio_queue_size"`
	TotalQueueSize     int                         `json:"total_queue_size"`
	Engine             string                      `json:"engine"`
	Stats              observability.StatsSnapshot `json:"stats"`
	Health             health.Status               `json:"health"`
	Timestamp          time.Time                   `json:"timestamp"`
}

func (s *Server) statusSnapshot() StatusResponse {
	group, playing := s.player.Current()
	synthSize := s.queues.SizeText()
	audioSize := s.queues.SizeAudio()
	return StatusResponse{
		ConnectionState:    s.conn.State().String(),
		Playing:            playing,
		CurrentGroup:       group,
		SynthesisQueueSize: synthSize,
		AudioQueueSize:     audioSize,
		TotalQueueSize:     synthSize + audioSize,
		Engine:             s.registry.ActiveName(),
		Stats:              s.stats.Snapshot(),
		Health:             s.monitor.Status(),
		Timestamp:          time.Now(),
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.statusSnapshot())
}

type messageRequest struct {
	MessageID string `json:"message_id"`
	AuthorID  string `json:"author_id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// handleMessage accepts one inbound chat message from the platform bridge and
// hands it to the intake stage.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AuthorID == "" {
		writeError(w, http.StatusBadRequest, "author_id is required")
		return
	}

	queued := s.intake.Submit(voice.MessageEvent{
		MessageID: req.MessageID,
		AuthorID:  req.AuthorID,
		ChannelID: req.ChannelID,
		Content:   req.Content,
		Timestamp: time.Now(),
	})
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	removed := s.player.Skip()
	s.logger.Info().Int("removed", removed).Msg("Skip requested")
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	discarded := s.queues.DrainAll()
	s.logger.Info().Int("discarded", discarded).Msg("Queues cleared")
	writeJSON(w, http.StatusOK, map[string]int{"discarded": discarded})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	if err := s.conn.Reconnect(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Manual reconnect failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"connection_state": s.conn.State().String()})
}

type voiceRequest struct {
	UserID      string `json:"user_id"`
	SpeakerID   int    `json:"speaker_id"`
	SpeakerName string `json:"speaker_name"`
	Engine      string `json:"engine"`
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req voiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" || req.SpeakerID == 0 {
			writeError(w, http.StatusBadRequest, "user_id and speaker_id are required")
			return
		}
		if req.SpeakerName == "" {
			engine := req.Engine
			if engine == "" {
				engine = tts.DetectEngine(req.SpeakerID)
			}
			req.SpeakerName = tts.Speaker(req.SpeakerID, engine).Name
		}
		if err := s.settings.SetSpeaker(req.UserID, req.SpeakerID, req.SpeakerName, req.Engine); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, _ := s.settings.Get(req.UserID)
		writeJSON(w, http.StatusOK, rec)

	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		rec, ok := s.settings.Get(userID)
		if !ok {
			writeError(w, http.StatusNotFound, "no voice preference for user")
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		removed, err := s.settings.Remove(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type engineRequest struct {
	Engine string `json:"engine"`
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"engine": s.registry.ActiveName()})

	case http.MethodPost:
		var req engineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !s.registry.SetActive(req.Engine) {
			writeError(w, http.StatusBadRequest, "unknown engine "+strconv.Quote(req.Engine))
			return
		}
		s.logger.Info().Str("engine", req.Engine).Msg("Active TTS engine switched")
		writeJSON(w, http.StatusOK, map[string]string{"engine": req.Engine})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	engine := r.URL.Query().Get("engine")
	if engine == "" {
		engine = s.registry.ActiveName()
	}

	type speakerEntry struct {
		ID        int    `json:"id"`
		Name      string `json:"name"`
		Character string `json:"character"`
	}
	var speakers []speakerEntry
	for id, info := range tts.Speakers(engine) {
		speakers = append(speakers, speakerEntry{ID: id, Name: info.Name, Character: info.Character})
	}
	writeJSON(w, http.StatusOK, map[string]any{"engine": engine, "speakers": speakers})
}

// handleStatusStream pushes a status snapshot over a websocket once a second
// until the client goes away.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Status stream opened")

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(s.statusSnapshot()); err != nil {
				s.logger.Debug().Err(err).Msg("Status stream closed")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

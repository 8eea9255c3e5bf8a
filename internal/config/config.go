package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EngineConfig describes one TTS backend.
type EngineConfig struct {
	URL            string
	DefaultSpeaker int
	Speakers       map[string]int // speaker label -> engine speaker ID
}

// Config holds all configuration for the voicebridge service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Voice channel to join on startup
	VoiceChannel string `envconfig:"VOICE_CHANNEL" required:"true"`

	// Voice gateway websocket endpoint
	VoiceGatewayURL string `envconfig:"VOICE_GATEWAY_URL" default:"ws://localhost:8090/voice"`

	// TTS engine configuration
	TTSEngine   string `envconfig:"TTS_ENGINE" default:"voicevox"` // voicevox, aivis
	TTSSpeaker  string `envconfig:"TTS_SPEAKER" default:"normal"`  // Speaker label within the active engine
	VoicevoxURL string `envconfig:"VOICEVOX_URL" default:"http://localhost:50021"`
	AivisURL    string `envconfig:"AIVIS_URL" default:"http://127.0.0.1:10101"`

	// Pipeline configuration
	MessageQueueSize int `envconfig:"MESSAGE_QUEUE_SIZE" default:"100"`  // Capacity of each pipeline queue
	MaxMessageLength int `envconfig:"MAX_MESSAGE_LENGTH" default:"10000"`
	MaxChunkLength   int `envconfig:"MAX_CHUNK_LENGTH" default:"200"`    // Runes per synthesis chunk
	SynthesisTimeout int `envconfig:"SYNTHESIS_TIMEOUT" default:"30"`    // Seconds per TTS call
	PlaybackTimeout  int `envconfig:"PLAYBACK_TIMEOUT" default:"300"`    // Seconds per audio clip
	MaxClipBytes     int `envconfig:"MAX_CLIP_BYTES" default:"10485760"` // Bytes per synthesized clip

	// Rate limiting configuration
	RateLimitRequests   int `envconfig:"RATE_LIMIT_REQUESTS" default:"50"`   // Platform API requests per second
	BreakerMaxFailures  int `envconfig:"BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	BreakerResetTimeout int `envconfig:"BREAKER_RESET_TIMEOUT" default:"60"` // Seconds before attempting recovery

	// Reconnection configuration
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`    // Maximum reconnection attempts
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`      // Initial backoff in milliseconds
	ReconnectMaxBackoff  int `envconfig:"RECONNECT_MAX_BACKOFF" default:"30000"` // Backoff cap in milliseconds
	ConnectionWait       int `envconfig:"CONNECTION_WAIT" default:"30"`          // Seconds playback waits for a connection

	// Health monitoring configuration
	HealthCheckInterval int `envconfig:"HEALTH_CHECK_INTERVAL" default:"60"` // Seconds between health cycles
	MaxAPIFailures      int `envconfig:"MAX_API_FAILURES" default:"15"`      // Consecutive probe failures before escalation

	// User settings persistence (defaults to a path under the user config dir)
	SettingsFile string `envconfig:"SETTINGS_FILE" default:""`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	engines := c.Engines()
	engine, ok := engines[c.TTSEngine]
	if !ok {
		return fmt.Errorf("unknown TTS engine %q", c.TTSEngine)
	}
	if _, ok := engine.Speakers[c.TTSSpeaker]; !ok {
		return fmt.Errorf("unknown speaker %q for engine %q", c.TTSSpeaker, c.TTSEngine)
	}
	if c.MessageQueueSize <= 0 {
		return fmt.Errorf("MESSAGE_QUEUE_SIZE must be positive, got %d", c.MessageQueueSize)
	}
	if c.MaxChunkLength <= 0 {
		return fmt.Errorf("MAX_CHUNK_LENGTH must be positive, got %d", c.MaxChunkLength)
	}
	if c.SynthesisTimeout <= 0 {
		return fmt.Errorf("SYNTHESIS_TIMEOUT must be positive, got %d", c.SynthesisTimeout)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests)
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be positive, got %d", c.ReconnectMaxAttempts)
	}
	return nil
}

// Engines returns the configured TTS backends keyed by engine name.
// The TTS_SPEAKER label is reflected into the active engine's default speaker.
func (c *Config) Engines() map[string]EngineConfig {
	voicevox := EngineConfig{
		URL:            c.VoicevoxURL,
		DefaultSpeaker: 3,
		Speakers: map[string]int{
			"normal": 3,
			"amai":   1,
			"sexy":   5,
			"tsun":   7,
		},
	}
	aivis := EngineConfig{
		URL:            c.AivisURL,
		DefaultSpeaker: 1512153250,
		Speakers: map[string]int{
			"zunda_normal":  1512153250,
			"anneli_normal": 888753760,
			"mai":           1431611904,
			"chuunibyou":    604166016,
		},
	}

	switch c.TTSEngine {
	case "voicevox":
		if id, ok := voicevox.Speakers[c.TTSSpeaker]; ok {
			voicevox.DefaultSpeaker = id
		}
	case "aivis":
		if id, ok := aivis.Speakers[c.TTSSpeaker]; ok {
			aivis.DefaultSpeaker = id
		}
	}

	return map[string]EngineConfig{
		"voicevox": voicevox,
		"aivis":    aivis,
	}
}

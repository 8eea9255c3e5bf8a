package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayatane/voicebridge/internal/observability"
)

// Client speaks the VOICEVOX-compatible HTTP synthesis protocol, which both
// supported backends expose: a query step producing prosody parameters and a
// synthesis step producing WAV bytes.
type Client struct {
	name           string
	baseURL        string
	defaultSpeaker int
	httpClient     *http.Client
	logger         zerolog.Logger
}

// NewClient creates an engine client for one backend.
func NewClient(name, baseURL string, defaultSpeaker int, timeout time.Duration) *Client {
	return &Client{
		name:           name,
		baseURL:        baseURL,
		defaultSpeaker: defaultSpeaker,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         observability.ComponentLogger("tts").With().Str("engine", name).Logger(),
	}
}

// Name returns the engine name.
func (c *Client) Name() string {
	return c.name
}

// DefaultSpeaker returns the engine's configured default speaker ID.
func (c *Client) DefaultSpeaker() int {
	return c.defaultSpeaker
}

// Synthesize converts text to WAV bytes. A non-positive speakerID falls back
// to the engine default.
func (c *Client) Synthesize(ctx context.Context, text string, speakerID int) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	if speakerID <= 0 {
		speakerID = c.defaultSpeaker
	}

	query, err := c.audioQuery(ctx, text, speakerID)
	if err != nil {
		return nil, fmt.Errorf("audio query: %w", err)
	}

	audio, err := c.synthesis(ctx, query, speakerID)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	c.logger.Debug().
		Int("speaker_id", speakerID).
		Int("bytes", len(audio)).
		Msg("Synthesized audio")
	return audio, nil
}

// audioQuery asks the backend to build prosody parameters for the text.
func (c *Client) audioQuery(ctx context.Context, text string, speakerID int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(speakerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio_query?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// synthesis converts a prepared audio query into WAV bytes.
func (c *Client) synthesis(ctx context.Context, query json.RawMessage, speakerID int) ([]byte, error) {
	params := url.Values{}
	params.Set("speaker", strconv.Itoa(speakerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesis?"+params.Encode(), bytes.NewReader(query))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("backend returned empty audio")
	}
	return audio, nil
}

// HealthCheck probes the backend's version endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}

// ValidWAV reports whether the audio bytes carry a plausible RIFF/WAVE header.
// Synthesized clips that fail this check are skipped rather than played.
func ValidWAV(audio []byte) bool {
	if len(audio) < 44 {
		return false
	}
	if string(audio[:4]) != "RIFF" || string(audio[8:12]) != "WAVE" {
		return false
	}

	channels := int(audio[22]) | int(audio[23])<<8
	sampleRate := int(audio[24]) | int(audio[25])<<8 | int(audio[26])<<16 | int(audio[27])<<24
	bitsPerSample := int(audio[34]) | int(audio[35])<<8

	if channels != 1 && channels != 2 {
		return false
	}
	switch sampleRate {
	case 8000, 16000, 22050, 24000, 44100, 48000:
	default:
		return false
	}
	switch bitsPerSample {
	case 8, 16, 24, 32:
	default:
		return false
	}
	return true
}

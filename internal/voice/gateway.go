package voice

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayatane/voicebridge/internal/observability"
)

// Gateway wire protocol: JSON control frames plus binary audio frames.
// The gateway acks a join with "ready" and a finished clip with "played".
type gatewayFrame struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
	On      bool   `json:"on,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	opJoin      = "join"
	opReady     = "ready"
	opSpeaking  = "speaking"
	opPlayStart = "play_start"
	opPlayEnd   = "play_end"
	opPlayed    = "played"

	audioFrameSize   = 32 * 1024
	handshakeTimeout = 10 * time.Second
)

// GatewayDialer connects to the voice gateway over a websocket.
type GatewayDialer struct {
	url string
}

// NewGatewayDialer creates a dialer for the gateway at url.
func NewGatewayDialer(url string) *GatewayDialer {
	return &GatewayDialer{url: url}
}

// Connect dials the gateway and joins the named channel.
func (d *GatewayDialer) Connect(ctx context.Context, channel string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial voice gateway: %w", err)
	}

	if err := conn.WriteJSON(gatewayFrame{Op: opJoin, Channel: channel}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var ack gatewayFrame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read join ack: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if ack.Op != opReady {
		conn.Close()
		return nil, fmt.Errorf("gateway refused join: %s %s", ack.Op, ack.Error)
	}

	return &gatewayTransport{conn: conn}, nil
}

// gatewayTransport is one joined voice session. The write mutex keeps control
// and audio frames from interleaving; reads only happen inside Play, which the
// playback worker serializes.
type gatewayTransport struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	playing atomic.Bool
	closed  atomic.Bool
}

func (t *gatewayTransport) SetSpeaking(speaking bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(gatewayFrame{Op: opSpeaking, On: speaking})
}

func (t *gatewayTransport) IsPlaying() bool {
	return t.playing.Load()
}

// Play streams the clip at path to the gateway and waits for its playback
// ack. The deadline comes from ctx.
func (t *gatewayTransport) Play(ctx context.Context, path string) error {
	audio, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audio clip: %w", err)
	}

	t.playing.Store(true)
	defer t.playing.Store(false)

	t.mu.Lock()
	err = t.stream(audio)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("stream audio: %w", err)
	}

	deadline := time.Now().Add(5 * time.Minute)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	t.conn.SetReadDeadline(deadline)
	defer t.conn.SetReadDeadline(time.Time{})

	for {
		var frame gatewayFrame
		if err := t.conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("await playback ack: %w", err)
		}
		switch frame.Op {
		case opPlayed:
			return nil
		case opSpeaking, opReady:
			// Gateway chatter; keep waiting for the ack.
		default:
			if frame.Error != "" {
				return fmt.Errorf("gateway playback error: %s", frame.Error)
			}
		}
	}
}

func (t *gatewayTransport) stream(audio []byte) error {
	if err := t.conn.WriteJSON(gatewayFrame{Op: opPlayStart}); err != nil {
		return err
	}
	for off := 0; off < len(audio); off += audioFrameSize {
		end := off + audioFrameSize
		if end > len(audio) {
			end = len(audio)
		}
		if err := t.conn.WriteMessage(websocket.BinaryMessage, audio[off:end]); err != nil {
			return err
		}
	}
	return t.conn.WriteJSON(gatewayFrame{Op: opPlayEnd})
}

func (t *gatewayTransport) Disconnect() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"),
		time.Now().Add(time.Second))
	t.mu.Unlock()

	if err := t.conn.Close(); err != nil {
		logger := observability.ComponentLogger("gateway")
		logger.Warn().Err(err).Msg("Gateway close failed")
		return err
	}
	return nil
}

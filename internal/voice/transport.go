// Package voice drives the speech pipeline: chat intake, synthesis, playback,
// and the voice channel connection they share.
package voice

import "context"

// State describes the voice connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Transport is an established voice channel session. Implementations wrap the
// platform client; the pipeline only drives playback through this surface.
type Transport interface {
	// SetSpeaking toggles the speaking indicator in the channel.
	SetSpeaking(speaking bool) error

	// Play streams the audio file at path into the channel, blocking until the
	// clip finishes or ctx is cancelled.
	Play(ctx context.Context, path string) error

	// IsPlaying reports whether a clip is currently streaming.
	IsPlaying() bool

	// Disconnect tears the session down.
	Disconnect() error
}

// Dialer establishes voice channel sessions. The ConnectionManager owns
// when to dial; the Dialer owns how.
type Dialer interface {
	Connect(ctx context.Context, channel string) (Transport, error)
}

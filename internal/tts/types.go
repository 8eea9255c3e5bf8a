package tts

import (
	"context"
	"sync"
)

// Engine is the contract every TTS backend implements. Engines are
// interchangeable; callers select one by name through a Registry.
type Engine interface {
	// Synthesize converts text to audio bytes using the given speaker.
	Synthesize(ctx context.Context, text string, speakerID int) ([]byte, error)

	// HealthCheck probes the backend for liveness.
	HealthCheck(ctx context.Context) error

	// Name returns the engine name (e.g. "voicevox", "aivis").
	Name() string

	// DefaultSpeaker returns the engine's configured default speaker ID.
	DefaultSpeaker() int
}

// Registry holds the configured engines and tracks which one is active.
// Safe for concurrent use: the synthesis worker reads the active engine while
// the command surface may switch it.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
	active  string
}

// NewRegistry creates a registry with the given engines, activating the named
// one.
func NewRegistry(engines map[string]Engine, active string) *Registry {
	return &Registry{engines: engines, active: active}
}

// Active returns the currently selected engine.
func (r *Registry) Active() Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines[r.active]
}

// ActiveName returns the name of the currently selected engine.
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Engine returns the named engine, if configured.
func (r *Registry) Engine(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// SetActive switches the active engine. Returns false if the name is unknown.
func (r *Registry) SetActive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[name]; !ok {
		return false
	}
	r.active = name
	return true
}

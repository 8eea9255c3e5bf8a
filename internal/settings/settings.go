// Package settings persists per-user voice preferences as a flat JSON file
// keyed by user ID. Legacy records without an engine field are migrated on
// load by inferring the engine from the speaker ID range.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/tts"
)

// Record is one user's voice preference.
type Record struct {
	Engine      string `json:"engine,omitempty"`
	SpeakerID   int    `json:"speaker_id"`
	SpeakerName string `json:"speaker_name,omitempty"`
}

// Store manages the settings file. All methods are safe for concurrent use.
type Store struct {
	path   string
	mu     sync.RWMutex
	users  map[string]Record
	logger zerolog.Logger
}

// DefaultPath returns the settings file location under the user config dir.
func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "voicebridge", "user_settings.json")
}

// Open loads the store from path, creating parent directories as needed and
// migrating legacy records in place.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	s := &Store{
		path:   path,
		users:  make(map[string]Record),
		logger: observability.ComponentLogger("settings"),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	if s.migrate() {
		if err := s.save(); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Int("users", len(s.users)).Str("path", path).Msg("User settings loaded")
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	if err := json.Unmarshal(data, &s.users); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	return nil
}

// save writes the settings atomically: temp file then rename.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// migrate fills in the engine field for legacy records. Returns true when
// anything changed.
func (s *Store) migrate() bool {
	migrated := false
	for userID, rec := range s.users {
		if rec.Engine != "" {
			continue
		}
		rec.Engine = tts.DetectEngine(rec.SpeakerID)
		s.users[userID] = rec
		migrated = true
		s.logger.Info().
			Str("user_id", userID).
			Str("engine", rec.Engine).
			Int("speaker_id", rec.SpeakerID).
			Msg("Migrated legacy voice preference")
	}
	return migrated
}

// SpeakerFor returns the speaker ID to use for a user under the active
// engine, mapping the stored preference across engines when they differ.
// The defaults map supplies per-engine configured defaults for unmapped
// speakers. Returns false if the user has no preference.
func (s *Store) SpeakerFor(userID, activeEngine string, defaults map[string]int) (int, bool) {
	s.mu.RLock()
	rec, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}

	engine := rec.Engine
	if engine == "" {
		engine = tts.DetectEngine(rec.SpeakerID)
	}
	if activeEngine == "" || engine == activeEngine {
		return rec.SpeakerID, true
	}

	mapped := tts.CompatibleSpeaker(rec.SpeakerID, engine, activeEngine, defaults)
	if mapped != rec.SpeakerID {
		s.logger.Debug().
			Str("user_id", userID).
			Str("from", engine).
			Str("to", activeEngine).
			Int("speaker_id", rec.SpeakerID).
			Int("mapped_id", mapped).
			Msg("Mapped speaker preference across engines")
	}
	return mapped, true
}

// Get returns a user's stored preference.
func (s *Store) Get(userID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	return rec, ok
}

// SetSpeaker stores a user's voice preference. An empty engine is inferred
// from the speaker ID.
func (s *Store) SetSpeaker(userID string, speakerID int, speakerName, engine string) error {
	if engine == "" {
		engine = tts.DetectEngine(speakerID)
	} else if engine != "voicevox" && engine != "aivis" {
		return fmt.Errorf("invalid engine %q", engine)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = Record{
		Engine:      engine,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
	}
	if err := s.save(); err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("engine", engine).
		Int("speaker_id", speakerID).
		Str("speaker_name", speakerName).
		Msg("Stored voice preference")
	return nil
}

// Remove deletes a user's preference. Returns true if one existed.
func (s *Store) Remove(userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return false, nil
	}
	delete(s.users, userID)
	if err := s.save(); err != nil {
		return true, err
	}
	return true, nil
}

// Count returns the number of stored preferences.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

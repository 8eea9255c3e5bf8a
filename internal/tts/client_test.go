package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// wavBytes builds a minimal valid WAV payload for tests.
func wavBytes(size int) []byte {
	b := make([]byte, 44+size)
	copy(b[0:4], "RIFF")
	copy(b[8:12], "WAVE")
	b[22] = 1 // mono
	// 48000 Hz little-endian
	b[24], b[25], b[26], b[27] = 0x80, 0xBB, 0x00, 0x00
	b[34] = 16 // bits per sample
	return b
}

func newBackend(t *testing.T, queryStatus, synthStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/audio_query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Query().Get("speaker") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(queryStatus)
		w.Write([]byte(`{"accent_phrases":[],"speedScale":1.0}`))
	})
	mux.HandleFunc("/synthesis", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(synthStatus)
		w.Write(wavBytes(256))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"0.14.0"`))
	})
	return httptest.NewServer(mux)
}

func TestClient_Synthesize(t *testing.T) {
	server := newBackend(t, http.StatusOK, http.StatusOK)
	defer server.Close()

	client := NewClient("voicevox", server.URL, 3, 5*time.Second)
	audio, err := client.Synthesize(context.Background(), "hello", 3)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if !ValidWAV(audio) {
		t.Error("Expected valid WAV bytes")
	}
}

func TestClient_Synthesize_DefaultSpeaker(t *testing.T) {
	var gotSpeaker string
	mux := http.NewServeMux()
	mux.HandleFunc("/audio_query", func(w http.ResponseWriter, r *http.Request) {
		gotSpeaker = r.URL.Query().Get("speaker")
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/synthesis", func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes(16))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient("voicevox", server.URL, 3, 5*time.Second)
	if _, err := client.Synthesize(context.Background(), "hello", 0); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if gotSpeaker != "3" {
		t.Errorf("Expected default speaker '3', got '%s'", gotSpeaker)
	}
}

func TestClient_Synthesize_EmptyText(t *testing.T) {
	client := NewClient("voicevox", "http://localhost:50021", 3, time.Second)
	if _, err := client.Synthesize(context.Background(), "", 3); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestClient_Synthesize_QueryError(t *testing.T) {
	server := newBackend(t, http.StatusInternalServerError, http.StatusOK)
	defer server.Close()

	client := NewClient("voicevox", server.URL, 3, 5*time.Second)
	if _, err := client.Synthesize(context.Background(), "hello", 3); err == nil {
		t.Error("Expected error when audio query fails")
	}
}

func TestClient_Synthesize_ContextCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio_query", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient("voicevox", server.URL, 3, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Synthesize(ctx, "hello", 3); err == nil {
		t.Error("Expected error from cancelled context")
	}
}

func TestClient_HealthCheck(t *testing.T) {
	server := newBackend(t, http.StatusOK, http.StatusOK)
	defer server.Close()

	client := NewClient("voicevox", server.URL, 3, 5*time.Second)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy backend, got %v", err)
	}
}

func TestClient_HealthCheck_Down(t *testing.T) {
	server := newBackend(t, http.StatusOK, http.StatusOK)
	server.Close() // backend gone

	client := NewClient("voicevox", server.URL, 3, time.Second)
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("Expected error for unreachable backend")
	}
}

func TestValidWAV(t *testing.T) {
	tests := []struct {
		name     string
		audio    []byte
		expected bool
	}{
		{"valid", wavBytes(128), true},
		{"too short", []byte("RIFF"), false},
		{"wrong magic", make([]byte, 64), false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidWAV(tt.audio); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

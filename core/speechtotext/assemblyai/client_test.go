package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-call/core/speechtotext"
)

type fakeAssemblyAI struct {
	polls        atomic.Int32
	pendingPolls int32
	finalStatus  transcriptStatus
	uploaded     []byte
	language     string
}

func (f *fakeAssemblyAI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "key" {
			t.Errorf("missing authorization")
		}
		f.uploaded, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn/audio"})
	})
	mux.HandleFunc("POST /v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AudioURL     string `json:"audio_url"`
			LanguageCode string `json:"language_code"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.language = body.LanguageCode
		json.NewEncoder(w).Encode(transcriptResponse{ID: "t1", Status: statusQueued})
	})
	mux.HandleFunc("GET /v2/transcript/t1", func(w http.ResponseWriter, r *http.Request) {
		if f.polls.Add(1) <= f.pendingPolls {
			json.NewEncoder(w).Encode(transcriptResponse{ID: "t1", Status: statusProcessing})
			return
		}
		json.NewEncoder(w).Encode(transcriptResponse{
			ID: "t1", Status: f.finalStatus, Text: "नमस्ते", Confidence: 0.9, Error: "bad audio",
		})
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeAssemblyAI, attempts int) *Client {
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	return NewClient("key",
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithPolling(attempts, time.Millisecond),
	)
}

func TestTranscribePollsUntilCompleted(t *testing.T) {
	fake := &fakeAssemblyAI{pendingPolls: 2, finalStatus: statusCompleted}
	client := newTestClient(t, fake, 5)

	transcription, err := client.Transcribe(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if transcription.Text != "नमस्ते" {
		t.Fatalf("unexpected text %q", transcription.Text)
	}
	if got := fake.polls.Load(); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
	if string(fake.uploaded) != "audio" || fake.language != speechtotext.DefaultLanguage {
		t.Fatalf("unexpected upload %q or language %q", fake.uploaded, fake.language)
	}
}

func TestTranscribeFailsFastOnProviderError(t *testing.T) {
	fake := &fakeAssemblyAI{finalStatus: statusError}
	client := newTestClient(t, fake, 5)

	_, err := client.Transcribe(context.Background(), []byte("audio"))
	if !errors.Is(err, speechtotext.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
	if got := fake.polls.Load(); got != 1 {
		t.Fatalf("expected a single poll, got %d", got)
	}
}

func TestTranscribeTimesOutAfterMaxAttempts(t *testing.T) {
	fake := &fakeAssemblyAI{pendingPolls: 100, finalStatus: statusCompleted}
	client := newTestClient(t, fake, 3)

	_, err := client.Transcribe(context.Background(), []byte("audio"))
	if !errors.Is(err, speechtotext.ErrTranscriptionTimeout) {
		t.Fatalf("expected ErrTranscriptionTimeout, got %v", err)
	}
	if got := fake.polls.Load(); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
}

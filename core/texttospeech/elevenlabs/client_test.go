package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koscakluka/ema-call/core/texttospeech"
)

func TestSynthesizeSendsIntensityAsStability(t *testing.T) {
	var received requestBody
	var path, apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	client := NewClient("secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	audio, err := client.Synthesize(context.Background(), "नमस्ते", texttospeech.WithIntensity(texttospeech.IntensityHigh))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(audio) != "mp3-bytes" {
		t.Fatalf("unexpected audio %q", audio)
	}
	if path != "/v1/text-to-speech/"+DefaultVoiceID {
		t.Fatalf("unexpected path %q", path)
	}
	if apiKey != "secret" {
		t.Fatalf("unexpected api key header %q", apiKey)
	}
	if received.ModelID != DefaultModelID || received.Text != "नमस्ते" {
		t.Fatalf("unexpected body: %+v", received)
	}
	if received.VoiceSettings.Stability != 0.75 || received.VoiceSettings.SimilarityBoost != 0.75 {
		t.Fatalf("unexpected voice settings: %+v", received.VoiceSettings)
	}
}

func TestSynthesizeMapsTooManyRequestsToRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient("secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	_, err := client.Synthesize(context.Background(), "hi")
	if !errors.Is(err, texttospeech.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSynthesizeOtherFailuresAreNotRateLimits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient("secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	_, err := client.Synthesize(context.Background(), "hi")
	if err == nil || errors.Is(err, texttospeech.ErrRateLimited) {
		t.Fatalf("expected plain failure, got %v", err)
	}
}

func TestSynthesizeWithoutAPIKeyFails(t *testing.T) {
	if _, err := NewClient("").Synthesize(context.Background(), "hi"); err == nil {
		t.Fatalf("expected missing key error")
	}
}

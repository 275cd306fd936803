package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-call/core/texttospeech"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *TextToSpeechClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewTextToSpeechClient("key", "", WithEndpoint("ws", strings.TrimPrefix(server.URL, "http://")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestSynthesizeCollectsAudioUntilFlushed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var spoken speakMessage
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token key" {
			t.Errorf("unexpected authorization %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.ReadJSON(&spoken); err != nil {
			t.Errorf("failed to read speak: %v", err)
			return
		}
		var flush websocketMessage
		if err := conn.ReadJSON(&flush); err != nil || flush.Type != "Flush" {
			t.Errorf("expected flush, got %+v (%v)", flush, err)
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		conn.WriteMessage(websocket.BinaryMessage, []byte{3})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flushed","sequence_id":0}`))
		var closing websocketMessage
		_ = conn.ReadJSON(&closing)
	})

	audio, err := client.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected audio %v", audio)
	}
	if spoken.Type != "Speak" || spoken.Text != "hello there" {
		t.Fatalf("unexpected speak message %+v", spoken)
	}
}

func TestSynthesizeRejectedHandshakeIsRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Synthesize(context.Background(), "hello")
	if !errors.Is(err, texttospeech.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestNewTextToSpeechClientRejectsUnknownVoice(t *testing.T) {
	if _, err := NewTextToSpeechClient("key", "not-a-voice"); err == nil {
		t.Fatalf("expected invalid voice error")
	}
}

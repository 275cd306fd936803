package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-call/core/audio"
	"github.com/koscakluka/ema-call/core/speechtotext"
)

func newListenServer(t *testing.T, handle func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("language") != "hi" {
			t.Errorf("unexpected language %q", r.URL.Query().Get("language"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestTranscribeJoinsFinalResults(t *testing.T) {
	var received atomic.Int64
	listenURL := newListenServer(t, func(conn *websocket.Conn) {
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				received.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"नम","confidence":0.2}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"नमस्ते","confidence":0.8}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":" जी ","confidence":0.6}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
	})

	client := NewTranscriptionClient("key", WithURL(listenURL))
	audioBytes := make([]byte, audioFrameSize*2+10)
	transcription, err := client.Transcribe(context.Background(), audioBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if transcription.Text != "नमस्ते जी" {
		t.Fatalf("unexpected transcript %q", transcription.Text)
	}
	if got := received.Load(); got != int64(len(audioBytes)) {
		t.Fatalf("expected %d audio bytes sent, got %d", len(audioBytes), got)
	}
	if transcription.Confidence < 0.69 || transcription.Confidence > 0.71 {
		t.Fatalf("expected averaged confidence, got %f", transcription.Confidence)
	}
}

func TestTranscribeReportsAbnormalClose(t *testing.T) {
	listenURL := newListenServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"))
	})

	client := NewTranscriptionClient("key", WithURL(listenURL))
	_, err := client.Transcribe(context.Background(), []byte{0, 0})
	if !errors.Is(err, speechtotext.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
}

func TestTranscribeRejectsUnsupportedEncoding(t *testing.T) {
	client := NewTranscriptionClient("key")
	_, err := client.Transcribe(context.Background(), nil,
		speechtotext.WithEncodingInfo(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw}))
	if err == nil {
		t.Fatalf("expected encoding error")
	}
}

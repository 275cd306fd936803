package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	orchestration "github.com/koscakluka/ema-call/core"
	"github.com/koscakluka/ema-call/core/llms"
	"github.com/koscakluka/ema-call/core/synthesis"
)

func TestDecodeClientEvent(t *testing.T) {
	event, err := DecodeClientEvent([]byte(`{"type":"audio_chunk","audio":"AQID","isFinal":true,"requestId":"r1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ClientEvent{Type: TypeAudioChunk, Audio: []byte{1, 2, 3}, IsFinal: true, RequestID: "r1"}
	if diff := cmp.Diff(want, event); diff != "" {
		t.Fatalf("unexpected event (-want +got):\n%s", diff)
	}

	if _, err := DecodeClientEvent([]byte(`{"type":"dance"}`)); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected unknown event type, got %v", err)
	}
	if _, err := DecodeClientEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestAudioAcknowledgedKeepsZero(t *testing.T) {
	data, err := json.Marshal(AudioAcknowledged(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"buffered":0`) {
		t.Fatalf("expected buffered count in %s", data)
	}
}

func TestAudioFrameFromFragment(t *testing.T) {
	timestamp := time.UnixMilli(1_700_000_000_000)
	frame := NewAudioFrame(synthesis.AudioFragment{
		Audio:     []byte("mp3"),
		Timestamp: timestamp,
		IsFinal:   true,
		RequestID: "r1",
		Sequence:  3,
	})

	data, err := frame.Marshal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := UnmarshalAudioFrame(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(frame, decoded); diff != "" {
		t.Fatalf("unexpected frame (-want +got):\n%s", diff)
	}
	if decoded.Timestamp != timestamp.UnixMilli() {
		t.Fatalf("expected unix milliseconds, got %d", decoded.Timestamp)
	}
}

func TestMetricsEvent(t *testing.T) {
	event := Metrics(orchestration.SessionMetrics{
		SessionID:  "s1",
		Transcript: "नमस्ते",
		History:    []llms.Turn{llms.UserTurn("नमस्ते")},
		Latency:    map[string]time.Duration{"pipeline": 250 * time.Millisecond},
	})

	if event.Metrics == nil || event.Metrics.Metrics["pipeline"] != 250 {
		t.Fatalf("expected pipeline latency in milliseconds, got %+v", event.Metrics)
	}
	if event.Metrics.History[0].Role != "user" {
		t.Fatalf("unexpected history %+v", event.Metrics.History)
	}
}

func TestSchemasListEventTypes(t *testing.T) {
	schemas := Schemas()
	data, err := json.Marshal(schemas["client"])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, eventType := range []string{TypeTranscription, TypeAudioChunk, TypeGetMetrics} {
		if !strings.Contains(string(data), eventType) {
			t.Fatalf("expected %q in client schema:\n%s", eventType, data)
		}
	}
	if schemas["audioFrame"] == nil || schemas["server"] == nil {
		t.Fatalf("expected server and audio frame schemas")
	}
}

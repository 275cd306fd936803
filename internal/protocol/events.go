// Package protocol defines the messages exchanged with call clients over
// the websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	orchestration "github.com/koscakluka/ema-call/core"
	"github.com/koscakluka/ema-call/internal/utils"
)

const (
	TypeTranscription = "transcription"
	TypeAudioChunk    = "audio_chunk"
	TypeGetMetrics    = "get_metrics"

	TypeConnected         = "connected"
	TypeAudioAcknowledged = "audio_acknowledged"
	TypeTextResponse      = "text_response"
	TypeMetrics           = "metrics"
	TypeError             = "error"
)

var ErrUnknownEventType = errors.New("unknown event type")

// ClientEvent is a JSON text frame sent by the client.
type ClientEvent struct {
	Type      string `json:"type" jsonschema:"enum=transcription,enum=audio_chunk,enum=get_metrics"`
	Text      string `json:"text,omitempty" jsonschema:"description=Transcript of a transcription event"`
	IsFinal   bool   `json:"isFinal,omitempty"`
	Audio     []byte `json:"audio,omitempty" jsonschema:"description=Base64 encoded audio of an audio_chunk event"`
	RequestID string `json:"requestId,omitempty" jsonschema:"description=Client chosen id used to drop duplicate utterances"`
}

func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var event ClientEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("failed to decode client event: %w", err)
	}

	switch event.Type {
	case TypeTranscription, TypeAudioChunk, TypeGetMetrics:
		return event, nil
	default:
		return event, fmt.Errorf("%w: %q", ErrUnknownEventType, event.Type)
	}
}

// ServerEvent is a JSON text frame sent to the client. Audio travels in
// binary AudioFrames instead.
type ServerEvent struct {
	Type      string          `json:"type" jsonschema:"enum=connected,enum=audio_acknowledged,enum=text_response,enum=metrics,enum=error"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Text      string          `json:"text,omitempty"`
	IsFinal   bool            `json:"isFinal,omitempty"`
	Buffered  *int            `json:"buffered,omitempty"`
	Message   string          `json:"message,omitempty"`
	Metrics   *SessionMetrics `json:"metrics,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func Connected(sessionID string) ServerEvent {
	return ServerEvent{Type: TypeConnected, SessionID: sessionID, Timestamp: now()}
}

func AudioAcknowledged(buffered int) ServerEvent {
	return ServerEvent{Type: TypeAudioAcknowledged, Buffered: utils.Ptr(buffered), Timestamp: now()}
}

func TextResponse(requestID, text string) ServerEvent {
	return ServerEvent{Type: TypeTextResponse, RequestID: requestID, Text: text, IsFinal: true, Timestamp: now()}
}

func Error(message string) ServerEvent {
	return ServerEvent{Type: TypeError, Message: message, Timestamp: now()}
}

func Metrics(metrics orchestration.SessionMetrics) ServerEvent {
	snapshot := NewSessionMetrics(metrics)
	return ServerEvent{Type: TypeMetrics, SessionID: metrics.SessionID, Metrics: &snapshot, Timestamp: now()}
}

func now() int64 {
	return time.Now().UnixMilli()
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionMetrics is the wire form of a session snapshot. Latencies are in
// milliseconds.
type SessionMetrics struct {
	SessionID           string             `json:"sessionId"`
	IsProcessing        bool               `json:"isProcessing"`
	CurrentRequestID    string             `json:"currentRequestId,omitempty"`
	TranscriptionBuffer string             `json:"transcriptionBuffer"`
	ResponseBuffer      string             `json:"responseBuffer"`
	History             []HistoryEntry     `json:"history"`
	Metrics             map[string]float64 `json:"metrics"`
}

func NewSessionMetrics(metrics orchestration.SessionMetrics) SessionMetrics {
	history := make([]HistoryEntry, 0, len(metrics.History))
	for _, turn := range metrics.History {
		history = append(history, HistoryEntry{Role: string(turn.Role), Content: turn.Content})
	}

	return SessionMetrics{
		SessionID:           metrics.SessionID,
		IsProcessing:        metrics.IsProcessing,
		CurrentRequestID:    metrics.CurrentRequestID,
		TranscriptionBuffer: metrics.Transcript,
		ResponseBuffer:      metrics.Response,
		History:             history,
		Metrics:             metrics.LatencyMilliseconds(),
	}
}

package orchestration

import (
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-call/core/latency"
	"github.com/koscakluka/ema-call/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Outcome string

const (
	// OutcomeAudio means at least one audio fragment reached the caller.
	OutcomeAudio Outcome = "audio"
	// OutcomeText means the reply was delivered as text only.
	OutcomeText Outcome = "text"
	// OutcomeFailed means the language model failed and the caller got
	// the apology.
	OutcomeFailed Outcome = "failed"
)

func metricOutcome(outcome Outcome) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", string(outcome)))
}

// CompletedTurn describes one finished generation.
type CompletedTurn struct {
	SessionID      string                   `json:"sessionId"`
	RequestID      string                   `json:"requestId"`
	UserText       string                   `json:"userText"`
	Response       string                   `json:"response"`
	Outcome        Outcome                  `json:"outcome"`
	AudioFragments int                      `json:"audioFragments"`
	Latency        map[string]time.Duration `json:"latency"`
	CompletedAt    time.Time                `json:"completedAt"`
}

// SessionMetrics is a point in time copy of a session. Nothing in it is
// shared with the orchestrator.
type SessionMetrics struct {
	SessionID        string
	IsProcessing     bool
	CurrentRequestID string
	Transcript       string
	Response         string
	History          []llms.Turn
	Latency          map[string]time.Duration
	Stages           []latency.Record
}

// LatencyMilliseconds returns the completed stage durations in
// milliseconds.
func (m SessionMetrics) LatencyMilliseconds() map[string]float64 {
	out := make(map[string]float64, len(m.Latency))
	for stage, duration := range m.Latency {
		out[stage] = float64(duration) / float64(time.Millisecond)
	}
	return out
}

type sessionState struct {
	SessionID        string
	IsProcessing     bool
	CurrentRequestID string
	Transcript       string
	Response         string
	History          []llms.Turn
}

func (o *Orchestrator) SessionMetrics() SessionMetrics {
	o.mu.Lock()
	state := sessionState{
		SessionID:        o.sessionID,
		IsProcessing:     o.processing,
		CurrentRequestID: o.currentRequestID,
		Transcript:       o.transcript,
		Response:         o.response.String(),
		History:          o.turns.turns,
	}

	var metrics SessionMetrics
	err := copier.CopyWithOption(&metrics, &state, copier.Option{DeepCopy: true})
	o.mu.Unlock()
	if err != nil {
		logger.Warn("failed to copy session state", "session_id", o.sessionID, "error", err)
		metrics = SessionMetrics{
			SessionID:    state.SessionID,
			IsProcessing: state.IsProcessing,
			Transcript:   state.Transcript,
			Response:     state.Response,
			History:      o.historySnapshot(),
		}
	}

	metrics.Latency = o.latency.Metrics(o.sessionID)
	metrics.Stages = o.latency.Records(o.sessionID)
	return metrics
}

func (o *Orchestrator) historySnapshot() []llms.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turns.Snapshot()
}

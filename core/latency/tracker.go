// Package latency measures how long each stage of a session's reply
// pipeline takes.
package latency

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	StagePipeline      = "pipeline"
	StageASR           = "asr"
	StageLLMStream     = "llm_stream"
	StageLLMFirstToken = "llm_first_token"
	StageFirstAudio    = "first_audio"
)

// SpanStage names the synthesis stage of a single span.
func SpanStage(sequence int) string {
	return "tts_span_" + strconv.Itoa(sequence)
}

type Record struct {
	Stage    string
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

func (r Record) Completed() bool {
	return !r.End.IsZero()
}

// Tracker is a stopwatch keyed by session and stage. It is safe for
// concurrent use and never panics on unknown keys.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]map[string]*Record
	now      func() time.Time
}

var defaultTracker = NewTracker()

// Default returns the process wide tracker.
func Default() *Tracker {
	return defaultTracker
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: map[string]map[string]*Record{},
		now:      time.Now,
	}
}

// Start (re)starts the stage, discarding any earlier reading for it.
func (t *Tracker) Start(session, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stages, ok := t.sessions[session]
	if !ok {
		stages = map[string]*Record{}
		t.sessions[session] = stages
	}
	stages[stage] = &Record{Stage: stage, Start: t.now()}
}

// End stops the stage and returns its duration. Ending a stage that was
// never started, or was already ended, returns zero.
func (t *Tracker) End(session, stage string) time.Duration {
	t.mu.Lock()
	record, ok := t.sessions[session][stage]
	if !ok || record.Completed() {
		t.mu.Unlock()
		return 0
	}
	record.End = t.now()
	record.Duration = record.End.Sub(record.Start)
	duration := record.Duration
	t.mu.Unlock()

	if stageDuration != nil {
		stageDuration.Record(context.Background(), float64(duration)/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("stage", stageName(stage))))
	}
	return duration
}

// Metrics returns the durations of every completed stage of the session.
func (t *Tracker) Metrics(session string) map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	metrics := map[string]time.Duration{}
	for stage, record := range t.sessions[session] {
		if record.Completed() {
			metrics[stage] = record.Duration
		}
	}
	return metrics
}

// Records returns copies of every record of the session, oldest first.
func (t *Tracker) Records(session string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]Record, 0, len(t.sessions[session]))
	for _, record := range t.sessions[session] {
		records = append(records, *record)
	}
	slices.SortFunc(records, func(a, b Record) int {
		return a.Start.Compare(b.Start)
	})
	return records
}

func (t *Tracker) Clear(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, session)
}

// stageName folds per span stages into one metric series.
func stageName(stage string) string {
	if strings.HasPrefix(stage, "tts_span_") {
		return "tts_span"
	}
	return stage
}

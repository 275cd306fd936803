// Package orchestration turns finalized transcripts of one call session
// into streamed, synthesized replies.
package orchestration

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-call/core/latency"
	"github.com/koscakluka/ema-call/core/llms"
	"github.com/koscakluka/ema-call/core/requests"
	"github.com/koscakluka/ema-call/core/spans"
	"github.com/koscakluka/ema-call/core/speechtotext"
	"github.com/koscakluka/ema-call/core/synthesis"
	"github.com/koscakluka/ema-call/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TranscriptionResult is what the speech recognizer, or a caller typing
// instead of speaking, hands to the orchestrator.
type TranscriptionResult struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
	Latency   time.Duration
}

type AudioCallback func(fragment synthesis.AudioFragment)

type TextCallback func(text string)

// Orchestrator owns a single session. At most one generation runs at a
// time; transcripts arriving meanwhile are dropped, not queued.
type Orchestrator struct {
	sessionID string

	llm                  llms.StreamingLLM
	synthesisQueue       *synthesis.Queue
	speechToText         speechtotext.Transcriber
	transcriptionOptions []speechtotext.TranscriptionOption
	correlator           *requests.Correlator
	latency              *latency.Tracker

	systemPrompt        string
	promptOptions       []llms.StreamingPromptOption
	minTranscriptLength int
	spanPolicy          spans.Policy
	llmTimeout          time.Duration
	fallbackMessage     string
	intensity           texttospeech.Intensity
	onTurnCompleted     func(ctx context.Context, turn CompletedTurn)

	mu               sync.Mutex
	processing       bool
	cleanedUp        bool
	currentRequestID string
	transcript       string
	response         textBuffer
	turns            Turns
	idle             chan struct{}
}

func NewOrchestrator(sessionID string, opts ...OrchestratorOption) *Orchestrator {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	idle := make(chan struct{})
	close(idle)

	o := &Orchestrator{
		sessionID:           sessionID,
		correlator:          requests.NewCorrelator(),
		latency:             latency.Default(),
		systemPrompt:        DefaultSystemPrompt,
		minTranscriptLength: DefaultMinTranscriptLength,
		spanPolicy:          spans.DefaultPolicy(),
		llmTimeout:          DefaultLLMTimeout,
		fallbackMessage:     DefaultFallbackMessage,
		intensity:           texttospeech.IntensityMedium,
		response:            newTextBuffer(),
		turns:               newTurns(DefaultHistoryLimit),
		idle:                idle,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

func (o *Orchestrator) IsProcessing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processing
}

// OnTranscriptionResult starts a reply to a final transcript. It returns
// immediately with the new request id, or false when the result was
// ignored: partial, too short, another reply still in flight, or the
// session already cleaned up.
func (o *Orchestrator) OnTranscriptionResult(ctx context.Context, result TranscriptionResult, onAudio AudioCallback, onText TextCallback) (string, bool) {
	if !result.IsFinal {
		logger.Debug("ignoring partial transcription", "session_id", o.sessionID, "text", result.Text)
		return "", false
	}

	text := strings.TrimSpace(result.Text)
	if utf8.RuneCountInString(text) < o.minTranscriptLength {
		logger.Debug("ignoring short transcription", "session_id", o.sessionID, "text", text)
		return "", false
	}

	requestID, ok := o.acquire()
	if !ok {
		logger.Debug("ignoring transcription while busy", "session_id", o.sessionID, "text", text)
		return "", false
	}

	history := o.acceptTranscript(text)
	go o.generate(context.WithoutCancel(ctx), requestID, text, history, onAudio, onText)
	return requestID, true
}

// OnUtteranceAudio transcribes a complete utterance and replies to it. The
// session counts as processing from the moment the audio is accepted.
func (o *Orchestrator) OnUtteranceAudio(ctx context.Context, audio []byte, onAudio AudioCallback, onText TextCallback) (string, bool) {
	if o.speechToText == nil {
		logger.Warn("ignoring utterance audio without a speech to text client", "session_id", o.sessionID)
		return "", false
	}
	if len(audio) == 0 {
		return "", false
	}

	requestID, ok := o.acquire()
	if !ok {
		logger.Debug("ignoring utterance audio while busy", "session_id", o.sessionID)
		return "", false
	}

	go o.transcribeAndGenerate(context.WithoutCancel(ctx), requestID, audio, onAudio, onText)
	return requestID, true
}

func (o *Orchestrator) transcribeAndGenerate(ctx context.Context, requestID string, audio []byte, onAudio AudioCallback, onText TextCallback) {
	transcription, err := o.transcribe(ctx, audio)
	if err != nil {
		logger.Error("failed to transcribe utterance", "session_id", o.sessionID, "request_id", requestID, "error", err)
		o.deliverText(requestID, onText, o.fallbackMessage)
		o.release(requestID)
		return
	}

	text := strings.TrimSpace(transcription.Text)
	if utf8.RuneCountInString(text) < o.minTranscriptLength {
		logger.Debug("ignoring short transcription", "session_id", o.sessionID, "text", text)
		o.release(requestID)
		return
	}

	history := o.acceptTranscript(text)
	o.generate(ctx, requestID, text, history, onAudio, onText)
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte) (speechtotext.Transcription, error) {
	ctx, span := tracer.Start(ctx, "transcribe utterance")
	defer span.End()
	span.SetAttributes(attribute.Int("audio.bytes", len(audio)))

	o.startStage(latency.StageASR)
	transcription, err := o.speechToText.Transcribe(ctx, audio, o.transcriptionOptions...)
	o.endStage(latency.StageASR)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return transcription, err
	}
	return transcription, nil
}

// AwaitCompletion blocks until no generation is in flight.
func (o *Orchestrator) AwaitCompletion(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup detaches the session. Later transcripts are ignored and audio
// of a generation still in flight is dropped. Safe to call repeatedly.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	if o.cleanedUp {
		o.mu.Unlock()
		return
	}
	o.cleanedUp = true
	o.processing = false
	o.currentRequestID = ""
	o.mu.Unlock()

	o.correlator.Forget(o.sessionID)
	o.latency.Clear(o.sessionID)
}

// acquire takes the processing gate and issues the request id.
func (o *Orchestrator) acquire() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cleanedUp || o.processing {
		return "", false
	}

	o.processing = true
	o.currentRequestID = o.correlator.NewRequest(o.sessionID)
	o.idle = make(chan struct{})
	o.transcript = ""
	o.response = newTextBuffer()
	o.latency.Start(o.sessionID, latency.StagePipeline)
	return o.currentRequestID, true
}

// acceptTranscript records the user turn and returns the history preceding
// it.
func (o *Orchestrator) acceptTranscript(text string) []llms.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.transcript = text
	history := o.turns.Snapshot()
	o.turns.Push(llms.UserTurn(text))
	return history
}

func (o *Orchestrator) generate(ctx context.Context, requestID, userText string, history []llms.Turn, onAudio AudioCallback, onText TextCallback) {
	ctx, span := tracer.Start(ctx, "generate reply", trace.WithAttributes(
		attribute.String("session.id", o.sessionID),
		attribute.String("request.id", requestID),
	))
	defer span.End()

	o.mu.Lock()
	response := o.response
	o.mu.Unlock()

	result := o.runResponsePipeline(ctx, requestID, userText, history, response, onAudio)

	turn := CompletedTurn{
		SessionID:      o.sessionID,
		RequestID:      requestID,
		UserText:       userText,
		Response:       result.response,
		AudioFragments: result.fragments,
	}
	switch {
	case result.err != nil:
		turn.Outcome = OutcomeFailed
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
		logger.Error("reply generation failed", "session_id", o.sessionID, "request_id", requestID, "error", result.err)
		o.deliverText(requestID, onText, o.fallbackMessage)
		if strings.TrimSpace(result.response) == "" {
			turn.Response = o.fallbackMessage
		}
	case result.fragments == 0:
		turn.Outcome = OutcomeText
		o.deliverText(requestID, onText, result.response)
	default:
		turn.Outcome = OutcomeAudio
	}
	span.SetAttributes(
		attribute.String("generation.outcome", string(turn.Outcome)),
		attribute.Int("generation.fragments", turn.AudioFragments),
	)

	o.finish(ctx, turn)
}

// finish records the assistant turn and puts the session back to idle.
func (o *Orchestrator) finish(ctx context.Context, turn CompletedTurn) {
	o.mu.Lock()
	o.turns.Push(llms.AssistantTurn(turn.Response))
	idle := o.idle
	o.mu.Unlock()
	defer close(idle)

	o.endStage(latency.StagePipeline)
	turn.Latency = o.latency.Metrics(o.sessionID)
	turn.CompletedAt = time.Now()
	o.setIdle(turn.RequestID)

	if generationCounter != nil {
		generationCounter.Add(ctx, 1, metricOutcome(turn.Outcome))
	}
	if o.onTurnCompleted != nil {
		o.onTurnCompleted(ctx, turn)
	}
}

// release puts the session back to idle without recording a turn.
func (o *Orchestrator) release(requestID string) {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()
	defer close(idle)

	o.endStage(latency.StagePipeline)
	o.setIdle(requestID)
}

func (o *Orchestrator) setIdle(requestID string) {
	o.mu.Lock()
	if o.currentRequestID == requestID {
		o.processing = false
		o.currentRequestID = ""
	}
	o.mu.Unlock()

	o.correlator.Retire(o.sessionID, requestID)
}

// deliverText hands text to the caller unless the request went stale.
func (o *Orchestrator) deliverText(requestID string, onText TextCallback, text string) {
	if onText == nil || !o.correlator.IsCurrent(o.sessionID, requestID) {
		return
	}
	onText(text)
}

func (o *Orchestrator) isCleanedUp() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cleanedUp
}

// Latency is not recorded once the session is cleaned up so that a late
// generation does not resurrect its records.
func (o *Orchestrator) startStage(stage string) {
	if o.isCleanedUp() {
		return
	}
	o.latency.Start(o.sessionID, stage)
}

func (o *Orchestrator) endStage(stage string) time.Duration {
	if o.isCleanedUp() {
		return 0
	}
	return o.latency.End(o.sessionID, stage)
}

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-call/core/latency"
	"github.com/koscakluka/ema-call/core/llms"
	"github.com/koscakluka/ema-call/core/synthesis"
	"go.opentelemetry.io/otel/attribute"
)

type pipelineResult struct {
	response  string
	fragments int
	err       error
}

// runResponsePipeline streams the reply and emits its audio concurrently.
// Span synthesis overlaps with the language model stream while emission
// stays in enqueue order.
func (o *Orchestrator) runResponsePipeline(
	ctx context.Context,
	requestID string,
	userText string,
	history []llms.Turn,
	response textBuffer,
	onAudio AudioCallback,
) pipelineResult {
	jobs := newStreamBuffer[*synthesis.Job]()

	var workerErr error
	workerErrMu := sync.Mutex{}
	run := func(name string, f func(context.Context) error) {
		if err := o.recoveringWorker(requestID, name, f)(ctx); err != nil {
			workerErrMu.Lock()
			workerErr = errors.Join(workerErr, err)
			workerErrMu.Unlock()
		}
	}

	var emitted int
	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		run("llm generation", func(ctx context.Context) error {
			defer jobs.Complete()
			return o.streamResponse(ctx, requestID, userText, history, response, jobs)
		})
	}()
	go func() {
		defer wg.Done()
		run("audio emission", func(ctx context.Context) error {
			o.emitAudio(ctx, requestID, jobs, onAudio, &emitted)
			return nil
		})
	}()
	wg.Wait()

	result := pipelineResult{
		response:  response.String(),
		fragments: emitted,
	}
	if workerErr != nil {
		result.err = fmt.Errorf("one or more reply processes failed: %w", workerErr)
	}
	return result
}

// emitAudio waits for synthesis jobs in enqueue order and hands their
// fragments to the caller. Failed spans are skipped. When the final span
// produced nothing an empty final fragment closes the response so the
// caller always sees IsFinal last.
func (o *Orchestrator) emitAudio(
	ctx context.Context,
	requestID string,
	jobs *streamBuffer[*synthesis.Job],
	onAudio AudioCallback,
	emitted *int,
) {
	ctx, span := tracer.Start(ctx, "emit audio")
	defer span.End()

	finalEmitted := false
	nextSequence := 0
	for job := range jobs.Items {
		fragment, err := job.Wait(ctx)
		o.endStage(latency.SpanStage(job.Span.Sequence))
		nextSequence = job.Span.Sequence + 1

		if err != nil {
			logger.Warn("skipping span that failed to synthesize",
				"session_id", o.sessionID,
				"request_id", requestID,
				"sequence", job.Span.Sequence,
				"error", err)
			continue
		}
		if len(fragment.Audio) == 0 {
			continue
		}
		if !o.deliverAudio(requestID, onAudio, fragment) {
			continue
		}

		if *emitted == 0 {
			o.endStage(latency.StageFirstAudio)
		}
		*emitted++
		finalEmitted = fragment.IsFinal
	}

	if *emitted > 0 && !finalEmitted {
		o.deliverAudio(requestID, onAudio, synthesis.AudioFragment{
			Timestamp: time.Now(),
			IsFinal:   true,
			RequestID: requestID,
			Sequence:  nextSequence,
		})
	}
	span.SetAttributes(attribute.Int("audio.fragments", *emitted))
}

// deliverAudio is the egress check: fragments of a request that is no
// longer current are dropped.
func (o *Orchestrator) deliverAudio(requestID string, onAudio AudioCallback, fragment synthesis.AudioFragment) bool {
	if onAudio == nil || fragment.RequestID != requestID || !o.correlator.IsCurrent(o.sessionID, requestID) {
		return false
	}
	onAudio(fragment)
	return true
}

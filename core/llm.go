package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-call/core/latency"
	"github.com/koscakluka/ema-call/core/llms"
	"github.com/koscakluka/ema-call/core/spans"
	"github.com/koscakluka/ema-call/core/synthesis"
	"github.com/koscakluka/ema-call/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var errNoLLM = errors.New("no language model configured")

// streamResponse drives the language model, appending tokens to response
// and enqueueing every ready span for synthesis.
func (o *Orchestrator) streamResponse(
	ctx context.Context,
	requestID string,
	userText string,
	history []llms.Turn,
	response textBuffer,
	jobs *streamBuffer[*synthesis.Job],
) error {
	ctx, span := tracer.Start(ctx, "stream llm response")
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if o.llm == nil {
		return fail(errNoLLM)
	}

	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()

	opts := append([]llms.StreamingPromptOption{
		llms.WithSystemPrompt(o.systemPrompt),
		llms.WithTurns(history...),
	}, o.promptOptions...)

	o.startStage(latency.StageLLMStream)
	o.startStage(latency.StageLLMFirstToken)
	o.startStage(latency.StageFirstAudio)
	stream := o.llm.PromptWithStream(llmCtx, &userText, opts...)

	bufferer := spans.NewBufferer(requestID, o.spanPolicy)
	tokens := 0
	for token, err := range llms.Tokens(llmCtx, stream) {
		if err != nil {
			return fail(fmt.Errorf("failed to stream llm response: %w", err))
		}

		if !token.IsFinal {
			if tokens == 0 {
				o.endStage(latency.StageLLMFirstToken)
			}
			tokens++
			response.Add(token.Text)
		}

		if ready, ok := bufferer.Feed(token); ok {
			o.enqueueSpan(ctx, ready, jobs)
		}
	}
	o.endStage(latency.StageLLMStream)
	span.SetAttributes(attribute.Int("llm.tokens", tokens))

	return nil
}

func (o *Orchestrator) enqueueSpan(ctx context.Context, ready spans.Span, jobs *streamBuffer[*synthesis.Job]) {
	if o.synthesisQueue == nil {
		return
	}
	if !o.correlator.IsCurrent(o.sessionID, ready.RequestID) {
		logger.Debug("not synthesizing span of stale request", "session_id", o.sessionID, "request_id", ready.RequestID)
		return
	}

	o.startStage(latency.SpanStage(ready.Sequence))
	jobs.Add(o.synthesisQueue.Enqueue(ctx, ready, texttospeech.WithIntensity(o.intensity)))
}

package openai

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-call/core/llms"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func toParams(model string, prompt *string, options llms.StreamingPromptOptions) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if options.Instructions != "" {
		messages = append(messages, openai.SystemMessage(options.Instructions))
	}
	for _, turn := range options.Turns {
		if turn.Content == "" {
			continue
		}
		switch turn.Role {
		case llms.TurnRoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case llms.TurnRoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	if prompt != nil {
		messages = append(messages, openai.UserMessage(*prompt))
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if options.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(options.MaxTokens))
	}
	if options.Temperature > 0 {
		params.Temperature = param.NewOpt(options.Temperature)
	}
	return params
}

type Stream struct {
	client openai.Client
	model  string
	params openai.ChatCompletionNewParams
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.model))
		span.SetAttributes(attribute.Int("request.messages", len(s.params.Messages)))

		stream := s.client.Chat.Completions.NewStreaming(ctx, s.params)
		defer stream.Close()

		receivedFirst := false
		for stream.Next() {
			chunk := stream.Current()
			if !receivedFirst {
				receivedFirst = true
				span.AddEvent("received first chunk")
			}

			if chunk.Usage.TotalTokens > 0 {
				span.SetAttributes(attribute.Int64("usage.total", chunk.Usage.TotalTokens))
				if !yield(StreamUsageChunk{usage: llms.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}}, nil) {
					return
				}
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			var finishReason *string
			if choice.FinishReason != "" {
				reason := choice.FinishReason
				finishReason = &reason
			}
			if choice.Delta.Content == "" {
				continue
			}
			if !yield(StreamContentChunk{finishReason: finishReason, content: choice.Delta.Content}, nil) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			err = fmt.Errorf("error reading streamed response: %w", err)
			logger.Error("openai compatible stream failed", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}
	}
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string { return s.finishReason }
func (s StreamContentChunk) Content() string       { return s.content }

type StreamUsageChunk struct {
	usage llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string { return nil }
func (s StreamUsageChunk) Usage() llms.Usage     { return s.usage }

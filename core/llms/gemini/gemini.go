// Package gemini adapts Google's Gemini models to the streaming LLM
// contract.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-call/core/llms"
	"github.com/koscakluka/ema-call/internal/utils"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const scopeName = "github.com/koscakluka/ema-call/core/llms/gemini"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const DefaultModel = "gemini-2.0-flash"

type Client struct {
	client *genai.Client
	model  string
}

func NewClient(ctx context.Context, apiKey string, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.NewStreamingPromptOptions(opts...)
	config, contents := toRequest(prompt, options)
	return &Stream{client: c.client, model: c.model, config: config, contents: contents}
}

func toRequest(prompt *string, options llms.StreamingPromptOptions) (*genai.GenerateContentConfig, []*genai.Content) {
	config := &genai.GenerateContentConfig{}
	if options.Instructions != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: options.Instructions}}}
	}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(options.MaxTokens)
	}
	if options.Temperature > 0 {
		config.Temperature = utils.Ptr(float32(options.Temperature))
	}

	contents := []*genai.Content{}
	for _, turn := range options.Turns {
		if turn.Content == "" {
			continue
		}
		switch turn.Role {
		case llms.TurnRoleUser:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		case llms.TurnRoleAssistant:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		}
	}
	if prompt != nil {
		contents = append(contents, genai.NewContentFromText(*prompt, genai.RoleUser))
	}
	return config, contents
}

type Stream struct {
	client   *genai.Client
	model    string
	config   *genai.GenerateContentConfig
	contents []*genai.Content
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.model))

		for response, err := range s.client.Models.GenerateContentStream(ctx, s.model, s.contents, s.config) {
			if err != nil {
				err = fmt.Errorf("error reading streamed response: %w", err)
				logger.Error("gemini stream failed", "error", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}
			if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
				continue
			}

			candidate := response.Candidates[0]
			var text strings.Builder
			for _, part := range candidate.Content.Parts {
				text.WriteString(part.Text)
			}
			var finishReason *string
			if candidate.FinishReason != "" {
				finishReason = utils.Ptr(string(candidate.FinishReason))
			}
			if text.Len() == 0 {
				continue
			}
			if !yield(StreamContentChunk{finishReason: finishReason, content: text.String()}, nil) {
				return
			}
		}
	}
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string { return s.finishReason }
func (s StreamContentChunk) Content() string       { return s.content }

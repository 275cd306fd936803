// Package openai streams chat completions from any OpenAI compatible
// endpoint. OpenRouter is the default target.
package openai

import (
	"context"
	"net/http"

	"github.com/koscakluka/ema-call/core/llms"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel      = "mistralai/mistral-7b-instruct:free"
)

type Client struct {
	client openai.Client
	model  string
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	options := clientOptions{
		baseURL: OpenRouterBaseURL,
		model:   DefaultModel,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Client{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(options.baseURL),
			option.WithHTTPClient(options.httpClient),
		),
		model: options.model,
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		if baseURL != "" {
			o.baseURL = baseURL
		}
	}
}

func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.NewStreamingPromptOptions(opts...)
	return &Stream{
		client: c.client,
		model:  c.model,
		params: toParams(c.model, prompt, options),
	}
}

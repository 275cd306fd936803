// Package elevenlabs synthesizes speech through the ElevenLabs REST API,
// one request per span of text.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/koscakluka/ema-call/core/texttospeech"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/koscakluka/ema-call/core/texttospeech/elevenlabs"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID = "Xb7hH8MSUJpSbvxk5HLt"
	DefaultModelID = "eleven_turbo_v2_5"

	similarityBoost = 0.75
)

var stabilityByIntensity = map[texttospeech.Intensity]float64{
	texttospeech.IntensityLow:    0.3,
	texttospeech.IntensityMedium: 0.5,
	texttospeech.IntensityHigh:   0.75,
}

type Client struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		voiceID:    DefaultVoiceID,
		modelID:    DefaultModelID,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithVoiceID(voiceID string) ClientOption {
	return func(c *Client) {
		if voiceID != "" {
			c.voiceID = voiceID
		}
	}
}

func WithModelID(modelID string) ClientOption {
	return func(c *Client) {
		if modelID != "" {
			c.modelID = modelID
		}
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type requestBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (c *Client) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
	options := texttospeech.NewSynthesisOptions(opts...)
	voiceID := c.voiceID
	if options.Voice != "" {
		voiceID = options.Voice
	}

	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.voice", voiceID),
		attribute.String("request.model", c.modelID),
		attribute.String("request.intensity", string(options.Intensity)),
		attribute.Int("request.text_length", len(text)),
	)

	fail := func(err error) ([]byte, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if c.apiKey == "" {
		return fail(fmt.Errorf("elevenlabs api key not set"))
	}

	stability, ok := stabilityByIntensity[options.Intensity]
	if !ok {
		stability = stabilityByIntensity[texttospeech.IntensityMedium]
	}
	body, err := json.Marshal(requestBody{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       stability,
			SimilarityBoost: similarityBoost,
		},
	})
	if err != nil {
		return fail(fmt.Errorf("error marshalling JSON: %w", err))
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "text-to-speech", voiceID)
	if err != nil {
		return fail(fmt.Errorf("error building request url: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("error creating HTTP request: %w", err))
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusTooManyRequests {
		logger.Warn("elevenlabs rate limited the request", "voice", voiceID)
		return fail(fmt.Errorf("elevenlabs returned %s: %w", resp.Status, texttospeech.ErrRateLimited))
	}
	if resp.StatusCode != http.StatusOK {
		if errorBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		return fail(fmt.Errorf("non-OK HTTP status: %s", resp.Status))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("error reading audio: %w", err))
	}
	span.SetAttributes(attribute.Int("response.audio_bytes", len(audio)))
	return audio, nil
}

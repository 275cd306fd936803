// Package assemblyai transcribes utterances with AssemblyAI's batch API:
// upload, request a transcript, then poll until it settles.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/koscakluka/ema-call/core/speechtotext"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/koscakluka/ema-call/core/speechtotext/assemblyai"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const (
	DefaultBaseURL      = "https://api.assemblyai.com"
	DefaultPollAttempts = 20
	DefaultPollInterval = time.Second
)

type Client struct {
	apiKey       string
	baseURL      string
	pollAttempts int
	pollInterval time.Duration
	httpClient   *http.Client
}

type ClientOption func(*Client)

func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		pollAttempts: DefaultPollAttempts,
		pollInterval: DefaultPollInterval,
		httpClient:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithPolling bounds how long a transcript is waited for.
func WithPolling(attempts int, interval time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.pollAttempts = attempts
		}
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

type transcriptStatus string

const (
	statusQueued     transcriptStatus = "queued"
	statusProcessing transcriptStatus = "processing"
	statusCompleted  transcriptStatus = "completed"
	statusError      transcriptStatus = "error"
)

type transcriptResponse struct {
	ID         string           `json:"id"`
	Status     transcriptStatus `json:"status"`
	Text       string           `json:"text"`
	Confidence float64          `json:"confidence"`
	Error      string           `json:"error"`
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, opts ...speechtotext.TranscriptionOption) (speechtotext.Transcription, error) {
	options := speechtotext.NewTranscriptionOptions(opts...)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "transcribe utterance")
	defer span.End()
	span.SetAttributes(
		attribute.Int("request.audio_bytes", len(audio)),
		attribute.String("request.language", options.Language),
	)
	fail := func(err error) (speechtotext.Transcription, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return speechtotext.Transcription{}, err
	}

	if c.apiKey == "" {
		return fail(fmt.Errorf("assemblyai api key not set"))
	}

	uploadURL, err := c.upload(ctx, audio)
	if err != nil {
		return fail(fmt.Errorf("failed to upload audio: %w", err))
	}

	transcriptID, err := c.requestTranscript(ctx, uploadURL, options.Language)
	if err != nil {
		return fail(fmt.Errorf("failed to request transcript: %w", err))
	}
	span.SetAttributes(attribute.String("response.transcript_id", transcriptID))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		transcript, err := c.fetchTranscript(ctx, transcriptID)
		if err != nil {
			return fail(fmt.Errorf("failed to poll transcript: %w", err))
		}

		switch transcript.Status {
		case statusCompleted:
			span.SetAttributes(attribute.Int("response.poll_attempts", attempt))
			return speechtotext.Transcription{
				Text:       transcript.Text,
				Confidence: transcript.Confidence,
				Latency:    time.Since(start),
			}, nil
		case statusError:
			return fail(fmt.Errorf("%w: %s", speechtotext.ErrTranscriptionFailed, transcript.Error))
		default:
			logger.Debug("transcript still pending", "id", transcriptID, "status", transcript.Status, "attempt", attempt)
		}

		select {
		case <-ctx.Done():
			return fail(fmt.Errorf("transcription interrupted: %w", ctx.Err()))
		case <-ticker.C:
		}
	}

	return fail(fmt.Errorf("%w after %d attempts", speechtotext.ErrTranscriptionTimeout, c.pollAttempts))
}

func (c *Client) upload(ctx context.Context, audio []byte) (string, error) {
	var response struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/upload", "application/octet-stream", bytes.NewReader(audio), &response); err != nil {
		return "", err
	}
	if response.UploadURL == "" {
		return "", fmt.Errorf("no upload url returned")
	}
	return response.UploadURL, nil
}

func (c *Client) requestTranscript(ctx context.Context, audioURL string, language string) (string, error) {
	body, err := json.Marshal(struct {
		AudioURL     string `json:"audio_url"`
		LanguageCode string `json:"language_code"`
	}{AudioURL: audioURL, LanguageCode: language})
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	var response transcriptResponse
	if err := c.do(ctx, http.MethodPost, "/v2/transcript", "application/json", bytes.NewReader(body), &response); err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", fmt.Errorf("no transcript id returned")
	}
	return response.ID, nil
}

func (c *Client) fetchTranscript(ctx context.Context, id string) (transcriptResponse, error) {
	var response transcriptResponse
	err := c.do(ctx, http.MethodGet, "/v2/transcript/"+url.PathEscape(id), "", nil, &response)
	return response, err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, errorBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error unmarshalling JSON: %w", err)
	}
	return nil
}

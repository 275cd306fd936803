// Package deepgram transcribes complete utterances over Deepgram's live
// listen websocket. The audio is streamed in, the stream is closed and every
// final result is collected until Deepgram hangs up.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-call/core/speechtotext"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/koscakluka/ema-call/core/speechtotext/deepgram"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const (
	defaultModel = "nova-2"
	// audioFrameSize keeps single websocket frames small enough for the
	// listen endpoint.
	audioFrameSize = 8 * 1024
)

type TranscriptionClient struct {
	apiKey string
	model  string
	url    string
	dialer *websocket.Dialer
}

type ClientOption func(*TranscriptionClient)

func NewTranscriptionClient(apiKey string, opts ...ClientOption) *TranscriptionClient {
	client := &TranscriptionClient{
		apiKey: apiKey,
		model:  defaultModel,
		url:    "wss://api.deepgram.com/v1/listen",
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithURL(listenURL string) ClientOption {
	return func(c *TranscriptionClient) { c.url = listenURL }
}

func (c *TranscriptionClient) Transcribe(ctx context.Context, audio []byte, opts ...speechtotext.TranscriptionOption) (speechtotext.Transcription, error) {
	options := speechtotext.NewTranscriptionOptions(opts...)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "transcribe utterance")
	defer span.End()
	span.SetAttributes(
		attribute.Int("request.audio_bytes", len(audio)),
		attribute.String("request.language", options.Language),
		attribute.String("request.model", c.model),
	)
	fail := func(err error) (speechtotext.Transcription, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return speechtotext.Transcription{}, err
	}

	if c.apiKey == "" {
		return fail(fmt.Errorf("deepgram api key not set"))
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fail(fmt.Errorf("invalid encoding: %w", err))
	}

	conn, err := c.connect(ctx, encoding, options.Language)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- sendAudio(conn, audio)
	}()

	var transcript []string
	var confidence float64
	var finals int
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				if errors.Is(ctxErr, context.DeadlineExceeded) {
					return fail(fmt.Errorf("%w: %w", speechtotext.ErrTranscriptionTimeout, ctxErr))
				}
				return fail(fmt.Errorf("transcription interrupted: %w", ctxErr))
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return fail(fmt.Errorf("%w: websocket read error: %w", speechtotext.ErrTranscriptionFailed, err))
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		done, err := func() (bool, error) {
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram message", "error", err)
				return false, nil
			}

			switch api.TypeResponse(parsedMsg.Type) {
			case api.TypeMessageResponse:
				var msgResp api.MessageResponse
				if err := json.Unmarshal(msg, &msgResp); err != nil {
					return false, fmt.Errorf("failed to unmarshal deepgram result: %w", err)
				}
				if !msgResp.IsFinal || len(msgResp.Channel.Alternatives) == 0 {
					return false, nil
				}
				alternative := msgResp.Channel.Alternatives[0]
				if text := strings.TrimSpace(alternative.Transcript); text != "" {
					transcript = append(transcript, text)
					confidence += alternative.Confidence
					finals++
				}
			case api.TypeMetadataResponse:
				return true, nil
			}
			return false, nil
		}()
		if err != nil {
			return fail(err)
		}
		if done {
			break
		}
	}

	if err := <-writeErr; err != nil {
		return fail(fmt.Errorf("%w: %w", speechtotext.ErrTranscriptionFailed, err))
	}

	if finals > 0 {
		confidence /= float64(finals)
	}
	return speechtotext.Transcription{
		Text:       strings.Join(transcript, " "),
		Confidence: confidence,
		Latency:    time.Since(start),
	}, nil
}

func (c *TranscriptionClient) connect(ctx context.Context, encoding *encodingInfo, language string) (*websocket.Conn, error) {
	listenURL, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format)
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("punctuate", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := c.dialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

func sendAudio(conn *websocket.Conn, audio []byte) error {
	for start := 0; start < len(audio); start += audioFrameSize {
		end := min(start+audioFrameSize, len(audio))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio[start:end]); err != nil {
			return fmt.Errorf("failed to write to deepgram client: %w", err)
		}
	}

	if err := conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream through websocket: %w", err)
	}
	return nil
}

package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-call/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

// Synthesize speaks text over a fresh websocket and returns the raw audio
// received until Deepgram acknowledges the flush.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
	options := texttospeech.NewSynthesisOptions(opts...)
	voice := c.voice
	if options.Voice != "" {
		voice = deepgramVoice(options.Voice)
	}
	encodingInfo := c.encodingInfo
	if !options.EncodingInfo.IsZero() {
		encodingInfo = options.EncodingInfo
	}

	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.voice", string(voice)),
		attribute.Int("request.text_length", len(text)),
	)
	fail := func(err error) ([]byte, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if c.apiKey == "" {
		return fail(fmt.Errorf("deepgram api key not set"))
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")

	conn, resp, err := c.dialer.DialContext(ctx,
		(&url.URL{
			Scheme:   c.scheme,
			Host:     c.host,
			Path:     "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return fail(fmt.Errorf("deepgram refused connection: %w", texttospeech.ErrRateLimited))
		}
		return fail(fmt.Errorf("failed to open socket connection to deepgram: %w", err))
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
		return fail(fmt.Errorf("failed to send text to deepgram through websocket: %w", err))
	}
	if err := conn.WriteJSON(flushMsg); err != nil {
		return fail(fmt.Errorf("failed to flush deepgram buffer through websocket: %w", err))
	}

	var audio bytes.Buffer
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(fmt.Errorf("speech synthesis interrupted: %w", ctxErr))
			}
			return fail(fmt.Errorf("websocket read error: %w", err))
		}

		switch msgType {
		case websocket.BinaryMessage:
			audio.Write(msg)
		case websocket.TextMessage:
			var parsedMsg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
				ErrCode     string `json:"err_code"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				if err := conn.WriteJSON(closeMsg); err != nil {
					logger.Debug("failed to close deepgram stream", "error", err)
				}
				span.SetAttributes(attribute.Int("response.audio_bytes", audio.Len()))
				return audio.Bytes(), nil
			case "Warning":
				logger.Warn("deepgram warning", "description", parsedMsg.Description)
			case "Error":
				err := errors.New(parsedMsg.Description)
				if parsedMsg.ErrCode == "RATE_LIMIT" {
					err = fmt.Errorf("%s: %w", parsedMsg.Description, texttospeech.ErrRateLimited)
				}
				return fail(fmt.Errorf("deepgram error: %w", err))
			}
		}
	}
}

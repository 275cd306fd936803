// Package deepgram synthesizes speech through Deepgram's streaming speak
// websocket. Each span gets its own short lived connection so calls stay
// independent and can be retried in isolation.
package deepgram

import (
	"fmt"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-call/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-call/core/texttospeech/deepgram"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

type TextToSpeechClient struct {
	apiKey       string
	voice        deepgramVoice
	encodingInfo audio.EncodingInfo

	scheme string
	host   string
	dialer *websocket.Dialer
}

type ClientOption func(*TextToSpeechClient)

func NewTextToSpeechClient(apiKey string, voice string, opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		apiKey:       apiKey,
		voice:        defaultVoice,
		encodingInfo: audio.GetDefaultEncodingInfo(),
		scheme:       "wss",
		host:         "api.deepgram.com",
		dialer:       websocket.DefaultDialer,
	}

	if voice != "" {
		if !slices.Contains(GetAvailableVoices(), deepgramVoice(voice)) {
			return nil, fmt.Errorf("invalid voice %q", voice)
		}
		client.voice = deepgramVoice(voice)
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) ClientOption {
	return func(c *TextToSpeechClient) {
		if !encodingInfo.IsZero() {
			c.encodingInfo = encodingInfo
		}
	}
}

// WithEndpoint replaces the Deepgram host, mostly useful for pointing the
// client at a local server.
func WithEndpoint(scheme, host string) ClientOption {
	return func(c *TextToSpeechClient) {
		c.scheme = scheme
		c.host = host
	}
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}

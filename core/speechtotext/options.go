package speechtotext

import "github.com/koscakluka/ema-call/core/audio"

const DefaultLanguage = "hi"

type TranscriptionOptions struct {
	EncodingInfo audio.EncodingInfo
	Language     string
}

func NewTranscriptionOptions(opts ...TranscriptionOption) TranscriptionOptions {
	options := TranscriptionOptions{
		EncodingInfo: audio.GetDefaultEncodingInfo(),
		Language:     DefaultLanguage,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type TranscriptionOption func(*TranscriptionOptions)

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if !encodingInfo.IsZero() {
			o.EncodingInfo = encodingInfo
		}
	}
}

// WithLanguage sets the spoken language as a BCP-47 code.
func WithLanguage(language string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if language != "" {
			o.Language = language
		}
	}
}

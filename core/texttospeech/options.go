package texttospeech

import (
	"strings"

	"github.com/koscakluka/ema-call/core/audio"
)

// Intensity is a delivery hint passed along with the text. Providers map it
// onto whatever expressiveness control they have.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// ParseIntensity falls back to medium for anything it does not recognise.
func ParseIntensity(value string) Intensity {
	switch Intensity(strings.ToLower(strings.TrimSpace(value))) {
	case IntensityLow:
		return IntensityLow
	case IntensityHigh:
		return IntensityHigh
	default:
		return IntensityMedium
	}
}

type SynthesisOptions struct {
	Intensity    Intensity
	Voice        string
	EncodingInfo audio.EncodingInfo
}

func NewSynthesisOptions(opts ...SynthesisOption) SynthesisOptions {
	options := SynthesisOptions{Intensity: IntensityMedium}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type SynthesisOption func(*SynthesisOptions)

func WithIntensity(intensity Intensity) SynthesisOption {
	return func(o *SynthesisOptions) { o.Intensity = intensity }
}

// WithVoice overrides the provider's configured voice for a single call.
func WithVoice(voice string) SynthesisOption {
	return func(o *SynthesisOptions) { o.Voice = voice }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}

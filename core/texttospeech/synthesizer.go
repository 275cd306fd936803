package texttospeech

import (
	"context"
	"errors"
)

// ErrRateLimited is returned (wrapped) by providers when the upstream
// service refused the call because of rate limiting. It is the only error
// the synthesis queue retries.
var ErrRateLimited = errors.New("speech synthesis rate limited")

// Synthesizer turns one span of text into one chunk of encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts ...SynthesisOption) ([]byte, error)
}

type SynthesizerFunc func(ctx context.Context, text string, opts ...SynthesisOption) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string, opts ...SynthesisOption) ([]byte, error) {
	return f(ctx, text, opts...)
}

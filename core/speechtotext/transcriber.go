package speechtotext

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTranscriptionFailed marks a terminal failure reported by the
	// provider. Callers should not retry it.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrTranscriptionTimeout is returned when the provider did not finish
	// within the allowed polling window.
	ErrTranscriptionTimeout = errors.New("transcription timed out")
)

// Transcription is the final text recognised in one utterance.
type Transcription struct {
	Text       string
	Confidence float64
	Latency    time.Duration
}

// Transcriber turns a complete utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, opts ...TranscriptionOption) (Transcription, error)
}

package llms

import (
	"context"
	"time"
)

type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

type Usage struct {
	// InputTokens represents the number of input tokens.
	InputTokens int
	// OutputTokens represents the number of output tokens.
	OutputTokens int
	// TotalTokens represents the total number of tokens used.
	TotalTokens int

	// TotalTime represents the total time it took to complete the request.
	//
	// Note: This might be just an approximation.
	TotalTime float64
}

// Token is a single piece of generated text as seen by the reply pipeline.
// A request's tokens end with exactly one IsFinal token that carries no
// text.
type Token struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

// FinalToken returns the end-of-stream sentinel.
func FinalToken() Token {
	return Token{IsFinal: true, Timestamp: time.Now()}
}

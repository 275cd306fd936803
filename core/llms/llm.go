package llms

import (
	"context"
	"time"
)

// StreamingLLM is implemented by every provider able to stream a chat
// completion.
type StreamingLLM interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...StreamingPromptOption) Stream
}

// Tokens drains a stream into pipeline tokens. The returned sequence always
// ends with exactly one FinalToken unless the consumer stops early or the
// stream fails, in which case the error is yielded last.
func Tokens(ctx context.Context, stream Stream) func(func(Token, error) bool) {
	return func(yield func(Token, error) bool) {
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				yield(Token{}, err)
				return
			}
			content, ok := chunk.(StreamContentChunk)
			if !ok || content.Content() == "" {
				continue
			}
			if !yield(Token{Text: content.Content(), Timestamp: time.Now()}, nil) {
				return
			}
		}
		yield(FinalToken(), nil)
	}
}

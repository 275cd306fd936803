// Package spans groups streamed language model tokens into pieces of text
// worth sending to speech synthesis.
package spans

import (
	"strings"
	"unicode"

	"github.com/koscakluka/ema-call/core/llms"
)

const (
	DefaultMinTokens = 5
	// DefaultTerminators are sentence endings, including the Devanagari
	// danda and double danda.
	DefaultTerminators = ".!?\n।॥"
)

// Policy decides when buffered tokens become a span.
type Policy struct {
	// MinTokens flushes once this many tokens are buffered.
	MinTokens int
	// Terminators flush as soon as any of these characters is buffered.
	Terminators string
	// FlushOnWhitespace flushes the buffered words whenever a token starts a
	// new word, trading more synthesis calls for earlier audio.
	FlushOnWhitespace bool
}

func DefaultPolicy() Policy {
	return Policy{MinTokens: DefaultMinTokens, Terminators: DefaultTerminators}
}

type Span struct {
	Text      string
	Sequence  int
	RequestID string
	IsFinal   bool
}

// Bufferer is a small state machine over one request's tokens. It is not
// safe for concurrent use; the generation that owns it feeds it serially.
type Bufferer struct {
	policy    Policy
	requestID string

	buffer   strings.Builder
	tokens   int
	sequence int
	done     bool
}

func NewBufferer(requestID string, policy Policy) *Bufferer {
	if policy.MinTokens <= 0 {
		policy.MinTokens = DefaultMinTokens
	}
	return &Bufferer{policy: policy, requestID: requestID}
}

// Feed adds a token and reports a span when one is ready. The final
// sentinel flushes any non-blank remainder as the final span; after it the
// bufferer ignores further tokens until Reset.
func (b *Bufferer) Feed(token llms.Token) (Span, bool) {
	if b.done {
		return Span{}, false
	}

	if token.IsFinal {
		b.done = true
		b.buffer.WriteString(token.Text)
		return b.flush(true)
	}

	// A new word that would itself complete a span joins the buffered words
	// so both go out on this token.
	if b.policy.FlushOnWhitespace && startsWithSpace(token.Text) && !b.completes(token.Text) {
		span, ok := b.flush(false)
		b.buffer.WriteString(token.Text)
		b.tokens++
		if ok {
			return span, true
		}
	} else {
		b.buffer.WriteString(token.Text)
		b.tokens++
	}

	if !b.ready() {
		return Span{}, false
	}
	return b.flush(false)
}

func startsWithSpace(text string) bool {
	return strings.IndexFunc(text, unicode.IsSpace) == 0
}

func (b *Bufferer) completes(text string) bool {
	if b.policy.MinTokens <= 1 {
		return true
	}
	return b.policy.Terminators != "" && strings.ContainsAny(text, b.policy.Terminators)
}

func (b *Bufferer) ready() bool {
	if b.tokens >= b.policy.MinTokens {
		return true
	}
	if b.policy.Terminators != "" && strings.ContainsAny(b.buffer.String(), b.policy.Terminators) {
		return true
	}
	return false
}

func (b *Bufferer) flush(final bool) (Span, bool) {
	text := strings.TrimSpace(b.buffer.String())
	if text == "" {
		b.buffer.Reset()
		b.tokens = 0
		return Span{}, false
	}

	span := Span{
		Text:      text,
		Sequence:  b.sequence,
		RequestID: b.requestID,
		IsFinal:   final,
	}
	b.sequence++
	b.buffer.Reset()
	b.tokens = 0
	return span, true
}

// Pending returns the buffered text that has not become a span yet.
func (b *Bufferer) Pending() string {
	return b.buffer.String()
}

// Reset discards all state and binds the bufferer to another request.
func (b *Bufferer) Reset(requestID string) {
	b.requestID = requestID
	b.buffer.Reset()
	b.tokens = 0
	b.sequence = 0
	b.done = false
}

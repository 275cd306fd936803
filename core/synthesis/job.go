package synthesis

import (
	"context"
	"time"

	"github.com/koscakluka/ema-call/core/spans"
	"github.com/koscakluka/ema-call/core/texttospeech"
)

// AudioFragment is the synthesized audio of one span. Ownership of Audio
// passes to whoever receives the fragment.
type AudioFragment struct {
	Audio     []byte
	Timestamp time.Time
	IsFinal   bool
	RequestID string
	Sequence  int
}

// Job is a queued synthesis of a single span.
type Job struct {
	Span spans.Span

	ctx  context.Context
	opts []texttospeech.SynthesisOption

	done     chan struct{}
	fragment AudioFragment
	err      error
	attempts int
}

func newJob(ctx context.Context, span spans.Span, opts []texttospeech.SynthesisOption) *Job {
	return &Job{
		Span: span,
		ctx:  ctx,
		opts: opts,
		done: make(chan struct{}),
	}
}

func (j *Job) complete(fragment AudioFragment, attempts int, err error) {
	j.fragment = fragment
	j.attempts = attempts
	j.err = err
	close(j.done)
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (AudioFragment, error) {
	select {
	case <-j.done:
		return j.fragment, j.err
	case <-ctx.Done():
		return AudioFragment{}, ctx.Err()
	}
}

// Attempts reports how many provider calls the job needed, blocking until
// the job completes.
func (j *Job) Attempts() int {
	<-j.done
	return j.attempts
}

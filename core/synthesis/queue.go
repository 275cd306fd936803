// Package synthesis serializes speech synthesis calls behind a rate
// limited, retrying worker pool and hands back audio fragments in the
// order spans were enqueued.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/koscakluka/ema-call/core/spans"
	"github.com/koscakluka/ema-call/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	DefaultConcurrency  = 1
	DefaultMinInterval  = 600 * time.Millisecond
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = time.Second
	DefaultCallTimeout  = 12 * time.Second
)

// MaxRetries bounds the retry budget so the backoff ceiling stays finite.
const MaxRetries = 10

var (
	ErrQueueClosed       = errors.New("synthesis queue closed")
	ErrSynthesisPanicked = errors.New("synthesizer panicked")
)

type Queue struct {
	synthesizer texttospeech.Synthesizer

	concurrency      int
	minInterval      time.Duration
	maxRetries       int
	retryBackoff     time.Duration
	callTimeout      time.Duration
	synthesisOptions []texttospeech.SynthesisOption

	limiter *rate.Limiter

	mu      sync.Mutex
	pending []*Job
	closed  bool
	wake    chan struct{}

	baseCtx   context.Context
	cancel    context.CancelFunc
	workersWg sync.WaitGroup
	closeOnce sync.Once
}

type QueueOption func(*Queue)

// WithConcurrency bounds how many provider calls run at once.
func WithConcurrency(concurrency int) QueueOption {
	return func(q *Queue) {
		if concurrency > 0 {
			q.concurrency = concurrency
		}
	}
}

// WithMinInterval sets the minimum time between the starts of two provider
// calls. Zero disables the limit.
func WithMinInterval(interval time.Duration) QueueOption {
	return func(q *Queue) {
		if interval >= 0 {
			q.minInterval = interval
		}
	}
}

// WithMaxRetries sets how many times a rate limited call is retried, so a
// job makes at most maxRetries+1 calls. Values above MaxRetries are capped.
func WithMaxRetries(maxRetries int) QueueOption {
	return func(q *Queue) {
		if maxRetries >= 0 {
			q.maxRetries = min(maxRetries, MaxRetries)
		}
	}
}

// WithRetryBackoff sets the first retry delay. It doubles on every retry.
func WithRetryBackoff(backoff time.Duration) QueueOption {
	return func(q *Queue) {
		if backoff > 0 {
			q.retryBackoff = backoff
		}
	}
}

func WithCallTimeout(timeout time.Duration) QueueOption {
	return func(q *Queue) {
		if timeout > 0 {
			q.callTimeout = timeout
		}
	}
}

// WithSynthesisOptions are applied to every call before the per job ones.
func WithSynthesisOptions(opts ...texttospeech.SynthesisOption) QueueOption {
	return func(q *Queue) {
		q.synthesisOptions = append(q.synthesisOptions, opts...)
	}
}

func NewQueue(synthesizer texttospeech.Synthesizer, opts ...QueueOption) *Queue {
	q := &Queue{
		synthesizer:  synthesizer,
		concurrency:  DefaultConcurrency,
		minInterval:  DefaultMinInterval,
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		callTimeout:  DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}

	limit := rate.Inf
	if q.minInterval > 0 {
		limit = rate.Every(q.minInterval)
	}
	q.limiter = rate.NewLimiter(limit, 1)
	q.wake = make(chan struct{}, q.concurrency)
	q.baseCtx, q.cancel = context.WithCancel(context.Background())

	for range q.concurrency {
		q.workersWg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue schedules the span for synthesis. The returned job always
// completes, with ErrQueueClosed when the queue shuts down first.
func (q *Queue) Enqueue(ctx context.Context, span spans.Span, opts ...texttospeech.SynthesisOption) *Job {
	job := newJob(ctx, span, append(append([]texttospeech.SynthesisOption{}, q.synthesisOptions...), opts...))

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		job.complete(AudioFragment{}, 0, ErrQueueClosed)
		return job
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job
}

// Pending returns the number of jobs waiting for a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the workers. Jobs still waiting fail with ErrQueueClosed and
// calls in flight are cancelled.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		pending := q.pending
		q.pending = nil
		q.mu.Unlock()

		q.cancel()
		for _, job := range pending {
			job.complete(AudioFragment{}, 0, ErrQueueClosed)
		}
		q.workersWg.Wait()
	})
}

func (q *Queue) next() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.pending) == 0 {
		return nil, q.closed
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return job, false
}

func (q *Queue) worker() {
	defer q.workersWg.Done()
	for {
		job, closed := q.next()
		if closed {
			return
		}
		if job != nil {
			q.process(job)
			continue
		}

		select {
		case <-q.wake:
		case <-q.baseCtx.Done():
			return
		}
	}
}

func (q *Queue) process(job *Job) {
	ctx, span := tracer.Start(job.ctx, "synthesize span")
	defer span.End()
	span.SetAttributes(
		attribute.String("span.request_id", job.Span.RequestID),
		attribute.Int("span.sequence", job.Span.Sequence),
		attribute.Bool("span.is_final", job.Span.IsFinal),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(q.baseCtx, cancel)
	defer stop()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.retryBackoff
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = backoffCeiling(q.retryBackoff, q.maxRetries)

	attempts := 0
	audio, err := backoff.Retry(ctx, func() ([]byte, error) {
		if err := q.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("waiting for synthesis slot: %w", err))
		}

		attempts++
		if attempts > 1 && retryCounter != nil {
			retryCounter.Add(ctx, 1)
		}

		callCtx, callCancel := context.WithTimeout(ctx, q.callTimeout)
		defer callCancel()
		audio, err := q.synthesize(callCtx, job)
		if err == nil {
			return audio, nil
		}
		if errors.Is(err, texttospeech.ErrRateLimited) {
			logger.Warn("speech synthesis rate limited",
				"request_id", job.Span.RequestID,
				"sequence", job.Span.Sequence,
				"attempt", attempts)
			return nil, err
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("speech synthesis timed out after %s: %w", q.callTimeout, err)
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(q.maxRetries+1)),
	)
	span.SetAttributes(attribute.Int("span.attempts", attempts))

	if err != nil {
		if q.baseCtx.Err() != nil {
			err = errors.Join(ErrQueueClosed, err)
		}
		err = fmt.Errorf("failed to synthesize span %d: %w", job.Span.Sequence, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		job.complete(AudioFragment{}, attempts, err)
		return
	}

	job.complete(AudioFragment{
		Audio:     audio,
		Timestamp: time.Now(),
		IsFinal:   job.Span.IsFinal,
		RequestID: job.Span.RequestID,
		Sequence:  job.Span.Sequence,
	}, attempts, nil)
}

// synthesize runs a single provider call, turning a panic into an error so
// the worker survives a misbehaving synthesizer.
func (q *Queue) synthesize(ctx context.Context, job *Job) (audio []byte, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("speech synthesizer panicked",
				"request_id", job.Span.RequestID,
				"sequence", job.Span.Sequence,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()))
			audio, err = nil, fmt.Errorf("%w: %v", ErrSynthesisPanicked, recovered)
		}
	}()
	return q.synthesizer.Synthesize(ctx, job.Span.Text, job.opts...)
}

// backoffCeiling doubles base once per retry, saturating instead of
// overflowing.
func backoffCeiling(base time.Duration, retries int) time.Duration {
	ceiling := base
	for range min(retries, MaxRetries) {
		if ceiling > math.MaxInt64/2 {
			return math.MaxInt64
		}
		ceiling *= 2
	}
	return ceiling
}

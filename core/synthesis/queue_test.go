package synthesis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/koscakluka/ema-call/core/spans"
	"github.com/koscakluka/ema-call/core/texttospeech"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"
)

func fastQueue(synth texttospeech.Synthesizer, opts ...QueueOption) *Queue {
	base := []QueueOption{
		WithMinInterval(0),
		WithRetryBackoff(10 * time.Millisecond),
		WithCallTimeout(time.Second),
	}
	return NewQueue(synth, append(base, opts...)...)
}

func echoSynthesizer() texttospeech.Synthesizer {
	return texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		return []byte(text), nil
	})
}

func waitJob(t *testing.T, job *Job) (AudioFragment, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	fragment, err := job.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		t.Fatalf("timed out waiting for job %d", job.Span.Sequence)
	}
	return fragment, err
}

func TestFragmentsFollowEnqueueOrder(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			var calls atomic.Int32
			synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
				// Earlier spans take longer so that completions come back out of order.
				n := calls.Add(1)
				time.Sleep(time.Duration(10-n) * time.Millisecond)
				return []byte(text), nil
			})
			queue := fastQueue(synth, WithConcurrency(concurrency))
			defer queue.Close()

			var jobs []*Job
			for i := range 5 {
				jobs = append(jobs, queue.Enqueue(context.Background(), spans.Span{
					Text: fmt.Sprintf("span-%d", i), Sequence: i, RequestID: "r1", IsFinal: i == 4,
				}))
			}

			for i, job := range jobs {
				fragment, err := waitJob(t, job)
				if err != nil {
					t.Fatalf("job %d failed: %v", i, err)
				}
				if fragment.Sequence != i || string(fragment.Audio) != fmt.Sprintf("span-%d", i) {
					t.Fatalf("job %d: unexpected fragment %+v", i, fragment)
				}
				if fragment.RequestID != "r1" || fragment.IsFinal != (i == 4) {
					t.Fatalf("job %d: unexpected metadata %+v", i, fragment)
				}
			}
		})
	}
}

func TestRateLimitedCallsAreRetriedWithBackoff(t *testing.T) {
	var calls atomic.Int32
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, fmt.Errorf("429: %w", texttospeech.ErrRateLimited)
		}
		return []byte("ok"), nil
	})
	backoff := 20 * time.Millisecond
	queue := fastQueue(synth, WithRetryBackoff(backoff), WithMaxRetries(2))
	defer queue.Close()

	start := time.Now()
	job := queue.Enqueue(context.Background(), spans.Span{Text: "hi"})
	fragment, err := waitJob(t, job)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(fragment.Audio) != "ok" {
		t.Fatalf("unexpected audio %q", fragment.Audio)
	}
	if got := job.Attempts(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if elapsed < backoff {
		t.Fatalf("expected retries to take at least %s, took %s", backoff, elapsed)
	}
}

func TestRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		calls.Add(1)
		return nil, texttospeech.ErrRateLimited
	})
	queue := fastQueue(synth, WithMaxRetries(2))
	defer queue.Close()

	_, err := waitJob(t, queue.Enqueue(context.Background(), spans.Span{Text: "hi"}))

	if !errors.Is(err, texttospeech.ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestOtherErrorsFailImmediately(t *testing.T) {
	var calls atomic.Int32
	providerErr := errors.New("invalid voice")
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		calls.Add(1)
		return nil, providerErr
	})
	queue := fastQueue(synth)
	defer queue.Close()

	_, err := waitJob(t, queue.Enqueue(context.Background(), spans.Span{Text: "hi"}))

	if !errors.Is(err, providerErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestPanickingSynthesizerFailsOnlyItsSpan(t *testing.T) {
	var calls atomic.Int32
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		if calls.Add(1) == 1 {
			panic("provider client blew up")
		}
		return []byte(text), nil
	})
	queue := fastQueue(synth)
	defer queue.Close()

	first := queue.Enqueue(context.Background(), spans.Span{Text: "a", Sequence: 0})
	second := queue.Enqueue(context.Background(), spans.Span{Text: "b", Sequence: 1})

	if _, err := waitJob(t, first); !errors.Is(err, ErrSynthesisPanicked) {
		t.Fatalf("expected panic to fail the span, got %v", err)
	}
	fragment, err := waitJob(t, second)
	if err != nil {
		t.Fatalf("expected the worker to keep serving, got %v", err)
	}
	if string(fragment.Audio) != "b" {
		t.Fatalf("unexpected audio %q", fragment.Audio)
	}
}

func TestBackoffCeilingSaturates(t *testing.T) {
	tests := []struct {
		base    time.Duration
		retries int
		want    time.Duration
	}{
		{base: time.Second, retries: 0, want: time.Second},
		{base: time.Second, retries: 2, want: 4 * time.Second},
		{base: time.Second, retries: 64, want: 1024 * time.Second},
		{base: math.MaxInt64 / 3, retries: 10, want: math.MaxInt64},
	}
	for _, tt := range tests {
		if got := backoffCeiling(tt.base, tt.retries); got != tt.want {
			t.Fatalf("backoffCeiling(%s, %d) = %s, want %s", tt.base, tt.retries, got, tt.want)
		}
	}
}

func TestMaxRetriesAreCapped(t *testing.T) {
	queue := fastQueue(echoSynthesizer(), WithMaxRetries(64))
	defer queue.Close()

	if queue.maxRetries != MaxRetries {
		t.Fatalf("expected retries capped at %d, got %d", MaxRetries, queue.maxRetries)
	}
	if _, err := waitJob(t, queue.Enqueue(context.Background(), spans.Span{Text: "hi"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCallsRespectMinimumInterval(t *testing.T) {
	var mu sync.Mutex
	var starts []time.Time
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil, nil
	})
	interval := 50 * time.Millisecond
	queue := fastQueue(synth, WithMinInterval(interval))
	defer queue.Close()

	first := queue.Enqueue(context.Background(), spans.Span{Sequence: 0})
	second := queue.Enqueue(context.Background(), spans.Span{Sequence: 1})
	waitJob(t, first)
	waitJob(t, second)

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(starts))
	}
	// rate.Limiter reserves tokens with a little slack
	if gap := starts[1].Sub(starts[0]); gap < interval-5*time.Millisecond {
		t.Fatalf("expected calls at least %s apart, got %s", interval, gap)
	}
}

func TestCallTimeoutFailsSpan(t *testing.T) {
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	queue := fastQueue(synth, WithCallTimeout(20*time.Millisecond))
	defer queue.Close()

	job := queue.Enqueue(context.Background(), spans.Span{Text: "slow"})
	_, err := waitJob(t, job)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if got := job.Attempts(); got != 1 {
		t.Fatalf("expected timeouts not to be retried, got %d attempts", got)
	}
}

func TestJobOptionsFollowQueueOptions(t *testing.T) {
	var got texttospeech.SynthesisOptions
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		got = texttospeech.NewSynthesisOptions(opts...)
		return nil, nil
	})
	queue := fastQueue(synth, WithSynthesisOptions(
		texttospeech.WithVoice("queue-voice"),
		texttospeech.WithIntensity(texttospeech.IntensityLow),
	))
	defer queue.Close()

	waitJob(t, queue.Enqueue(context.Background(), spans.Span{}, texttospeech.WithIntensity(texttospeech.IntensityHigh)))

	if got.Voice != "queue-voice" || got.Intensity != texttospeech.IntensityHigh {
		t.Fatalf("unexpected options %+v", got)
	}
}

func TestCloseFailsPendingAndLaterJobs(t *testing.T) {
	started := make(chan struct{})
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	queue := fastQueue(synth)

	inFlight := queue.Enqueue(context.Background(), spans.Span{Sequence: 0})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("first job never started")
	}
	pending := queue.Enqueue(context.Background(), spans.Span{Sequence: 1})

	queue.Close()

	for _, job := range []*Job{inFlight, pending, queue.Enqueue(context.Background(), spans.Span{Sequence: 2})} {
		if _, err := waitJob(t, job); !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("job %d: expected ErrQueueClosed, got %v", job.Span.Sequence, err)
		}
	}
	queue.Close()
}

func TestSharedQueuesAreReusedPerKey(t *testing.T) {
	defer CloseShared()

	first := Shared("provider", echoSynthesizer())
	second := Shared("provider", echoSynthesizer())
	other := Shared("other", echoSynthesizer())

	if first != second {
		t.Fatalf("expected the same queue for the same key")
	}
	if first == other {
		t.Fatalf("expected different queues for different keys")
	}

	first.Close()
	if Shared("provider", echoSynthesizer()) == first {
		t.Fatalf("expected a closed queue to be replaced")
	}
}

type recordingObserver struct {
	embedded.Int64Observer
	values map[string]int64
}

func (o *recordingObserver) Observe(value int64, opts ...metric.ObserveOption) {
	attrs := metric.NewObserveConfig(opts).Attributes()
	provider, _ := attrs.Value("provider")
	o.values[provider.AsString()] = value
}

func TestPendingSpansAreObservedPerSharedQueue(t *testing.T) {
	defer CloseShared()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	synth := texttospeech.SynthesizerFunc(func(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return []byte(text), nil
	})
	queue := Shared("blocking", synth, WithMinInterval(0), WithConcurrency(1))
	Shared("idle", echoSynthesizer())

	var jobs []*Job
	for i := range 3 {
		jobs = append(jobs, queue.Enqueue(context.Background(), spans.Span{Text: fmt.Sprint(i), Sequence: i}))
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("synthesis never started")
	}

	observer := &recordingObserver{values: map[string]int64{}}
	if err := observeSharedPending(context.Background(), observer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]int64{"blocking": 2, "idle": 0}, observer.values); diff != "" {
		t.Fatalf("unexpected pending counts (-want +got):\n%s", diff)
	}

	close(release)
	for _, job := range jobs {
		if _, err := waitJob(t, job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

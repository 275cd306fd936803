package synthesis

import (
	"sync"

	"github.com/koscakluka/ema-call/core/texttospeech"
)

var (
	sharedMu     sync.Mutex
	sharedQueues = map[string]*Queue{}
)

// Shared returns the process wide queue for a provider key, creating it on
// first use. Every session synthesizing through the same provider shares
// its concurrency and rate limit. Options only apply on creation.
func Shared(key string, synthesizer texttospeech.Synthesizer, opts ...QueueOption) *Queue {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if queue, ok := sharedQueues[key]; ok && !queue.isClosed() {
		return queue
	}
	queue := NewQueue(synthesizer, opts...)
	sharedQueues[key] = queue
	return queue
}

// CloseShared closes every shared queue.
func CloseShared() {
	sharedMu.Lock()
	queues := sharedQueues
	sharedQueues = map[string]*Queue{}
	sharedMu.Unlock()

	for _, queue := range queues {
		queue.Close()
	}
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

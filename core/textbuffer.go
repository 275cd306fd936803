package orchestration

import (
	"strings"
	"sync"
)

// streamBuffer is an unbounded single consumer queue. Producers never block
// and the consumer sees items in the order they were added.
type streamBuffer[T any] struct {
	mu           sync.Mutex
	items        []T
	consumed     int
	complete     bool
	updateSignal chan struct{}
}

func newStreamBuffer[T any]() *streamBuffer[T] {
	return &streamBuffer[T]{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *streamBuffer[T]) Add(item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()
	b.signalUpdate()
}

// Complete marks the end of the stream. Items ends once it has yielded
// everything added before.
func (b *streamBuffer[T]) Complete() {
	b.mu.Lock()
	b.complete = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *streamBuffer[T]) Items(yield func(T) bool) {
	for {
		b.mu.Lock()
		if b.consumed < len(b.items) {
			item := b.items[b.consumed]
			b.consumed++
			b.mu.Unlock()
			if !yield(item) {
				return
			}
			continue
		}

		if b.complete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// Snapshot copies everything added so far, consumed or not.
func (b *streamBuffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]T(nil), b.items...)
}

func (b *streamBuffer[T]) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}

// textBuffer accumulates streamed response text.
type textBuffer struct {
	*streamBuffer[string]
}

func newTextBuffer() textBuffer {
	return textBuffer{streamBuffer: newStreamBuffer[string]()}
}

func (b textBuffer) String() string {
	return strings.Join(b.Snapshot(), "")
}

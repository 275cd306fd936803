package orchestration

import (
	"fmt"
	"testing"
	"time"

	"github.com/koscakluka/ema-call/core/llms"
)

func TestTurnsDropOldestFirst(t *testing.T) {
	turns := newTurns(3)
	for i := range 5 {
		turns.Push(llms.UserTurn(fmt.Sprint(i)))
	}

	var got []string
	for _, turn := range turns.Snapshot() {
		got = append(got, turn.Content)
	}
	if fmt.Sprint(got) != "[2 3 4]" {
		t.Fatalf("expected the three most recent turns, got %v", got)
	}
}

func TestTurnsSnapshotIsIndependent(t *testing.T) {
	turns := newTurns(0)
	turns.Push(llms.UserTurn("a"))

	snapshot := turns.Snapshot()
	snapshot[0].Content = "b"
	turns.Push(llms.AssistantTurn("c"))

	if len(turns.turns) != 2 || turns.turns[0].Content != "a" {
		t.Fatalf("unexpected turns %+v", turns.turns)
	}
}

func TestStreamBufferYieldsInOrderUntilComplete(t *testing.T) {
	buffer := newStreamBuffer[int]()
	done := make(chan []int)
	go func() {
		var got []int
		for item := range buffer.Items {
			got = append(got, item)
		}
		done <- got
	}()

	for i := range 4 {
		buffer.Add(i)
	}
	buffer.Complete()

	var got []int
	select {
	case got = <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the consumer to finish")
	}
	if fmt.Sprint(got) != "[0 1 2 3]" {
		t.Fatalf("unexpected items %v", got)
	}
}

package orchestration

import (
	"slices"

	"github.com/koscakluka/ema-call/core/llms"
)

const DefaultHistoryLimit = 6

// Turns is the bounded conversation history of a session. It is only
// written by the orchestrator that owns it.
type Turns struct {
	turns []llms.Turn
	limit int
}

func newTurns(limit int) Turns {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return Turns{limit: limit}
}

// Push appends a turn and drops the oldest ones beyond the limit.
func (t *Turns) Push(turn llms.Turn) {
	t.turns = append(t.turns, turn)
	if overflow := len(t.turns) - t.limit; overflow > 0 {
		t.turns = slices.Delete(t.turns, 0, overflow)
	}
}

// Snapshot returns a copy that is safe to hand to another goroutine.
func (t *Turns) Snapshot() []llms.Turn {
	return slices.Clone(t.turns)
}

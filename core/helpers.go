package orchestration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

var errWorkerPanicked = errors.New("worker panicked")

type replyWorker func(context.Context) error

// recoveringWorker turns a panic inside run into an error, so a broken
// provider fails the current reply instead of the process.
func (o *Orchestrator) recoveringWorker(requestID, name string, run func(context.Context) error) replyWorker {
	return func(ctx context.Context) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("reply worker panicked",
					"session_id", o.sessionID,
					"request_id", requestID,
					"worker", name,
					"panic", fmt.Sprint(recovered),
					"stack", string(debug.Stack()))
				err = fmt.Errorf("%s %w: %v", name, errWorkerPanicked, recovered)
			}
		}()

		if err = run(ctx); err != nil {
			return fmt.Errorf("%s failed: %w", name, err)
		}

		return nil
	}
}

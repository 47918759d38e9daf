package light

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/atomic"
)

// queue runs actions one at a time. An action submitted while it is still
// pending is merged with the pending one.
type queue struct {
	c       *Client
	pending [numActions]atomic.Bool
	actions chan Action
}

func newQueue(c *Client) *queue {
	return &queue{
		c:       c,
		actions: make(chan Action, numActions),
	}
}

// Submit schedules a for Run. It never blocks.
func (c *Client) Submit(a Action) error {
	if a < 0 || a >= numActions {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, a)
	}
	q := c.queue
	if q.pending[a].CompareAndSwap(false, true) {
		q.actions <- a
	}
	return nil
}

// Run executes submitted actions until ctx is done. Failures are logged.
func (c *Client) Run(ctx context.Context) error {
	q := c.queue
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-q.actions:
			q.pending[a].Store(false)
			if err := c.Execute(ctx, a); err != nil {
				c.logger.Warn("cannot execute action",
					slog.String("action", a.String()),
					slog.String("error", err.Error()))
			}
		}
	}
}

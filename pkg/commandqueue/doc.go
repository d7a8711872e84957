// Package commandqueue serializes tasks per lane with FIFO ordering.
//
// Invariants:
//   - Tasks in the same lane execute one at a time in FIFO order.
//   - Tasks in different lanes may execute concurrently.
//   - A waiter whose context ends while its task is still queued gets ctx.Err()
//     and the task never runs.
//   - Lanes are dropped once empty, so per-session lane names do not accumulate.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.EnqueueWithContext(ctx, "session-abc", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue

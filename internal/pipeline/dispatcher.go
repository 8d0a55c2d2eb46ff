// Package pipeline runs asynchronous embedding generation: a dispatcher
// queues jobs for memories awaiting vectors, a worker embeds them with
// bounded retries, and a backfiller sweeps rows that never got one.
package pipeline

import (
	"context"
	"time"
)

// MaxAttempts is the total number of embedding attempts per memory,
// including the first. After the final failure the memory is marked
// failed and never retried automatically.
const MaxAttempts = 5

// Backoff returns the delay before retrying after the given attempt
// number (1-based): 1, 2, 4, 8, 16 minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<(attempt-1)) * time.Minute
}

// Job identifies one memory whose embedding should be generated.
type Job struct {
	MemoryID string `json:"memory_id"`
}

// Dispatcher queues embedding jobs for asynchronous execution. Dispatch
// must be cheap; callers invoke it on the write path after a synchronous
// embed attempt fails with a retryable error.
type Dispatcher interface {
	Dispatch(ctx context.Context, memoryID string) error
	Close() error
}

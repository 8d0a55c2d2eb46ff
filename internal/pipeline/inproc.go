package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
)

// InprocDispatcher runs embedding jobs on goroutines inside the server
// process. Jobs do not survive a restart; the backfill sweep picks up
// anything lost. Suitable for single-node deployments and tests.
type InprocDispatcher struct {
	worker *Worker
	logger *logging.Logger

	// delay is swappable so tests do not sleep for minutes.
	delay func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// InprocOption customizes an InprocDispatcher.
type InprocOption func(*InprocDispatcher)

// WithRetryDelay replaces the wait between attempts. Tests use it to retry
// immediately instead of sleeping out the backoff schedule.
func WithRetryDelay(fn func(ctx context.Context, d time.Duration) error) InprocOption {
	return func(d *InprocDispatcher) { d.delay = fn }
}

// NewInprocDispatcher creates an in-process dispatcher.
func NewInprocDispatcher(worker *Worker, logger *logging.Logger, opts ...InprocOption) *InprocDispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &InprocDispatcher{
		worker: worker,
		logger: logger,
		delay:  sleepCtx,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch schedules the memory for embedding on a new goroutine. The job
// runs detached from the caller's request context.
func (d *InprocDispatcher) Dispatch(_ context.Context, memoryID string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return context.Canceled
	}
	d.wg.Add(1)
	d.mu.Unlock()

	JobsDispatched.Inc()
	go func() {
		defer d.wg.Done()
		d.run(memoryID)
	}()
	return nil
}

func (d *InprocDispatcher) run(memoryID string) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := d.worker.Process(d.ctx, memoryID, attempt)
		if err == nil {
			return
		}
		if attempt == MaxAttempts {
			return
		}
		RetriesTotal.Inc()
		if d.delay(d.ctx, Backoff(attempt)) != nil {
			d.logger.Debug(d.ctx, "embedding job abandoned on shutdown",
				zap.String("memory_id", memoryID),
				zap.Int("attempt", attempt))
			return
		}
	}
}

// Close stops accepting jobs, cancels in-flight ones, and waits for the
// goroutines to exit.
func (d *InprocDispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	return nil
}

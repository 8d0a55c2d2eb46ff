package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
)

const natsConsumerName = "memoryd-embed"

// NATSDispatcher queues embedding jobs on a JetStream work queue. Jobs
// survive process restarts; JetStream redelivers failed jobs with the
// standard backoff schedule via NakWithDelay, and MaxDeliver caps total
// attempts to match the worker's terminal-failure accounting.
type NATSDispatcher struct {
	js      nats.JetStreamContext
	sub     *nats.Subscription
	subject string
	worker  *Worker
	logger  *logging.Logger

	backoff func(attempt int) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNATSDispatcher creates the stream if needed and starts a durable
// consumer feeding the worker. The connection is owned by the caller.
func NewNATSDispatcher(nc *nats.Conn, stream string, worker *Worker, logger *logging.Logger) (*NATSDispatcher, error) {
	if stream == "" {
		return nil, errors.New("nats dispatcher: stream name required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	subject := stream + ".embed"
	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("checking stream %s: %w", stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subject},
			Retention: nats.WorkQueuePolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("creating stream %s: %w", stream, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &NATSDispatcher{
		js:      js,
		subject: subject,
		worker:  worker,
		logger:  logger,
		backoff: Backoff,
		ctx:     ctx,
		cancel:  cancel,
	}

	d.sub, err = js.Subscribe(subject, d.handle,
		nats.Durable(natsConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(MaxAttempts),
		nats.AckWait(2*time.Minute),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return d, nil
}

// Dispatch publishes the job to the work queue.
func (d *NATSDispatcher) Dispatch(_ context.Context, memoryID string) error {
	data, err := json.Marshal(Job{MemoryID: memoryID})
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	if _, err := d.js.Publish(d.subject, data); err != nil {
		return fmt.Errorf("publishing embedding job: %w", err)
	}
	JobsDispatched.Inc()
	return nil
}

func (d *NATSDispatcher) handle(msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		d.logger.Warn(d.ctx, "dropping malformed embedding job", zap.Error(err))
		_ = msg.Term()
		return
	}

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	if err := d.worker.Process(d.ctx, job.MemoryID, attempt); err != nil {
		RetriesTotal.Inc()
		if nakErr := msg.NakWithDelay(d.backoff(attempt)); nakErr != nil {
			d.logger.Warn(d.ctx, "nak failed",
				zap.String("memory_id", job.MemoryID), zap.Error(nakErr))
		}
		return
	}
	if err := msg.Ack(); err != nil {
		d.logger.Warn(d.ctx, "ack failed",
			zap.String("memory_id", job.MemoryID), zap.Error(err))
	}
}

// Close drains the consumer and stops in-flight handlers.
func (d *NATSDispatcher) Close() error {
	d.cancel()
	if d.sub != nil {
		return d.sub.Drain()
	}
	return nil
}

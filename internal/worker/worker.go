// Package worker implements the queue-consuming execution loops.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// Handler executes one leased unit. Exhausted is invoked once the retry
// policy gives up on a unit, before it is removed from the queue.
type Handler interface {
	Handle(ctx context.Context, item scraper.QueueItem) error
	Exhausted(ctx context.Context, item scraper.QueueItem, err error)
}

// Config controls Worker behavior.
type Config struct {
	// Kind selects which units this worker consumes.
	Kind scraper.UnitKind
	// HeartbeatInterval is the lease renewal cadence. Must stay well under
	// the queue's lease duration. Defaults to 20s.
	HeartbeatInterval time.Duration
}

// Worker consumes units of one kind and drives them through the handler.
type Worker struct {
	queue   scraper.Queue
	handler Handler
	retry   *RetryPolicy
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue scraper.Queue, handler Handler, retry *RetryPolicy, cfg Config, logger *zap.Logger) *Worker {
	if retry == nil {
		retry = NewRetryPolicy()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		retry:   retry,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming units until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx, w.cfg.Kind)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("unit leased",
			zap.Int64("unit_id", item.ID),
			zap.String("kind", string(item.Kind)),
			zap.String("job_id", item.JobID),
			zap.Int("attempt", item.Attempt))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item scraper.QueueItem) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, item.ID)

	err := w.handler.Handle(ctx, item)
	stopHeartbeat()

	switch {
	case err == nil:
		if cerr := w.queue.Complete(ctx, item.ID); cerr != nil {
			w.logger.Error("complete unit failed", zap.Int64("unit_id", item.ID), zap.Error(cerr))
		}
	case w.retry.ShouldRetry(err, item.Attempt):
		backoff := w.retry.Backoff(item.Attempt)
		w.logger.Warn("unit failed, scheduling retry",
			zap.Int64("unit_id", item.ID),
			zap.String("job_id", item.JobID),
			zap.Int("attempt", item.Attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if ferr := w.queue.Fail(ctx, item.ID, backoff); ferr != nil {
			w.logger.Error("fail unit failed", zap.Int64("unit_id", item.ID), zap.Error(ferr))
		}
	default:
		w.logger.Error("unit attempts exhausted",
			zap.Int64("unit_id", item.ID),
			zap.String("job_id", item.JobID),
			zap.Int("attempt", item.Attempt),
			zap.Error(err))
		w.handler.Exhausted(ctx, item, err)
		if cerr := w.queue.Complete(ctx, item.ID); cerr != nil {
			w.logger.Error("complete exhausted unit failed", zap.Int64("unit_id", item.ID), zap.Error(cerr))
		}
	}
}

// heartbeat renews the lease until the unit finishes.
func (w *Worker) heartbeat(ctx context.Context, itemID int64) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, itemID); err != nil && ctx.Err() == nil {
				w.logger.Warn("heartbeat failed", zap.Int64("unit_id", itemID), zap.Error(err))
			}
		}
	}
}

// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/log"
)

// Handler processes one job. Errors are logged; the job is not retried
// here, since the next scheduled pass re-enqueues every active
// integration.
type Handler func(ctx context.Context, job domain.Job) error

// Consumer pulls jobs off a queue and runs the handler with bounded
// concurrency. Slow provider checks therefore never starve the queue, and
// a burst of jobs never fans out into unbounded goroutines.
type Consumer struct {
	queue       domain.Queue
	handler     Handler
	concurrency int64
}

// NewConsumer builds a consumer with the given concurrency bound.
func NewConsumer(q domain.Queue, handler Handler, concurrency int) *Consumer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Consumer{queue: q, handler: handler, concurrency: int64(concurrency)}
}

// Run consumes until ctx is done, then waits for in-flight handlers.
func (c *Consumer) Run(ctx context.Context) error {
	logger := log.WithComponent("queue")
	sem := semaphore.NewWeighted(c.concurrency)
	var wg sync.WaitGroup

	logger.Info().
		Str("event", "queue.consumer_started").
		Int64("concurrency", c.concurrency).
		Msg("job consumer running")

	for {
		job, err := c.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			logger.Error().Err(err).
				Str("event", "queue.dequeue_failed").
				Msg("failed to dequeue job")
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(job domain.Job) {
			defer wg.Done()
			defer sem.Release(1)

			jobCtx := log.ContextWithJobID(ctx, job.ID)
			if err := c.handler(jobCtx, job); err != nil {
				logger.Warn().Err(err).
					Str("event", "queue.job_failed").
					Str("job_id", job.ID).
					Str("resource_type", string(job.ResourceType)).
					Str("resource_id", job.ResourceID).
					Msg("job handler reported failure")
			}
		}(job)
	}

	wg.Wait()
	logger.Info().Str("event", "queue.consumer_stopped").Msg("job consumer stopped")
	return ctx.Err()
}

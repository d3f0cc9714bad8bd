// SPDX-License-Identifier: MIT

// Package queue provides the health-check job queue: an in-memory
// implementation, a Redis-backed implementation and the bounded consumer
// that hands jobs to the orchestrator. Delivery is at-least-once.
package queue

import (
	"context"
	"errors"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/metrics"
)

// ErrQueueFull is returned when a bounded in-memory queue cannot accept
// another job.
var ErrQueueFull = errors.New("queue is full")

// Memory is a bounded in-process Queue.
type Memory struct {
	jobs chan domain.Job
}

// NewMemory creates an in-memory queue holding at most capacity jobs.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{jobs: make(chan domain.Job, capacity)}
}

// Enqueue implements domain.Queue. A full queue drops the job rather than
// blocking the scheduler; the next tick re-enumerates every integration
// anyway.
func (m *Memory) Enqueue(_ context.Context, job domain.Job) error {
	select {
	case m.jobs <- job:
		metrics.SetQueueDepth("memory", len(m.jobs))
		return nil
	default:
		metrics.RecordQueueDrop("memory", "full")
		return ErrQueueFull
	}
}

// Dequeue implements domain.Queue.
func (m *Memory) Dequeue(ctx context.Context) (domain.Job, error) {
	select {
	case job := <-m.jobs:
		metrics.SetQueueDepth("memory", len(m.jobs))
		return job, nil
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
}

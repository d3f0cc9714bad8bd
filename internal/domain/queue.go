// SPDX-License-Identifier: MIT

package domain

import "context"

// Job is one health-check unit of work: a single resource to assess.
// Delivery is at-least-once; handlers must tolerate duplicates.
type Job struct {
	ID           string       `json:"id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
}

// Queue is the external job queue collaborator. No ordering is guaranteed
// across different resources.
type Queue interface {
	// Enqueue submits a job for later delivery.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
}

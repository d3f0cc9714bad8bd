// SPDX-License-Identifier: MIT

package daemon

import "errors"

var (
	// ErrMissingAPIHandler is returned when no API handler is provided.
	ErrMissingAPIHandler = errors.New("API handler is required")

	// ErrMissingScheduler is returned when no scheduler loop is provided.
	ErrMissingScheduler = errors.New("scheduler is required")

	// ErrMissingConsumer is returned when no queue consumer is provided.
	ErrMissingConsumer = errors.New("queue consumer is required")

	// ErrManagerNotStarted is returned when shutting down a manager that
	// never started.
	ErrManagerNotStarted = errors.New("manager not started")
)

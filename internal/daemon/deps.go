// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"net/http"
	"time"
)

// Runner is a long-running loop that exits when its context is done.
// Satisfied by the monitor scheduler and the queue consumer.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// ServerConfig holds the HTTP server tuning knobs.
type ServerConfig struct {
	ListenAddr      string
	MetricsAddr     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// Deps are the collaborators the Manager runs and supervises.
type Deps struct {
	// APIHandler serves the public API.
	APIHandler http.Handler

	// MetricsHandler serves Prometheus metrics. Nil disables the
	// metrics server.
	MetricsHandler http.Handler

	// Scheduler is the periodic enumeration loop.
	Scheduler Runner

	// Consumer drains the health check queue.
	Consumer Runner
}

// Validate checks the dependency set.
func (d *Deps) Validate() error {
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	if d.Scheduler == nil {
		return ErrMissingScheduler
	}
	if d.Consumer == nil {
		return ErrMissingConsumer
	}
	return nil
}

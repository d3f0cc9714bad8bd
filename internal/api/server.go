// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the daemon: health queries,
// owner reports, availability reads and the manual check trigger.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/health"
	"github.com/openbookings/calsync/internal/monitor"
)

// Orchestrator is the monitor surface the API needs. Implemented by
// *monitor.Monitor.
type Orchestrator interface {
	HealthStatus(ctx context.Context, resourceType domain.ResourceType, resourceID string) (health.State, bool)
	OwnerReport(ctx context.Context, ownerID string) (monitor.Report, error)
	CheckAll(ctx context.Context)
}

// AvailabilityReader answers coalesced busy-window queries. Implemented
// by *availability.Service.
type AvailabilityReader interface {
	Busy(ctx context.Context, ownerID string, from, to time.Time) ([]domain.BusySlot, error)
}

// Config tunes the HTTP surface.
type Config struct {
	// RateLimit is requests per minute per client IP.
	RateLimit int
}

// Server wires handlers to their collaborators.
type Server struct {
	cfg          Config
	orchestrator Orchestrator
	availability AvailabilityReader
	ready        func(ctx context.Context) error
	startTime    time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithReadiness sets the readiness probe callback. A nil callback means
// the server is ready as soon as it serves.
func WithReadiness(ready func(ctx context.Context) error) Option {
	return func(s *Server) { s.ready = ready }
}

// NewServer builds the API server.
func NewServer(cfg Config, orchestrator Orchestrator, availability AvailabilityReader, opts ...Option) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 120
	}
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		availability: availability,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(rateLimit(s.cfg.RateLimit, time.Minute))

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health/{type}/{id}", s.handleHealthStatus)
		r.Get("/owners/{id}/health", s.handleOwnerReport)
		r.Get("/owners/{id}/availability", s.handleAvailability)
		r.Post("/checks/run", s.handleRunChecks)
	})

	return r
}

// HTTPServer wraps the router in an http.Server with sane timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

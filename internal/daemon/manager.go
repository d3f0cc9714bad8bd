// SPDX-License-Identifier: MIT

// Package daemon runs the process lifecycle: the API and metrics servers,
// the scheduler loop and the queue consumer, plus graceful shutdown with
// LIFO cleanup hooks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbookings/calsync/internal/log"
)

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order.
type ShutdownHook func(ctx context.Context) error

// Manager runs the daemon until its context is cancelled or a component
// fails.
type Manager struct {
	serverCfg ServerConfig
	deps      Deps

	apiServer     *http.Server
	metricsServer *http.Server

	workerCancel context.CancelFunc
	workerDone   sync.WaitGroup

	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager validates the dependency set and builds a Manager.
func NewManager(serverCfg ServerConfig, deps Deps) (*Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	return &Manager{
		serverCfg: serverCfg.withDefaults(),
		deps:      deps,
		logger:    log.WithComponent("daemon"),
	}, nil
}

// Start runs all components and blocks until ctx is cancelled or a
// component fails, then shuts everything down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("event", "daemon.starting").
		Str("listen", m.serverCfg.ListenAddr).
		Str("metrics", m.serverCfg.MetricsAddr).
		Msg("starting daemon")

	errChan := make(chan error, 4)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.workerCancel = cancel

	if m.deps.MetricsHandler != nil && m.serverCfg.MetricsAddr != "" {
		m.startMetricsServer(errChan)
	}
	m.startAPIServer(errChan)
	m.startWorker(workerCtx, "scheduler", m.deps.Scheduler, errChan)
	m.startWorker(workerCtx, "consumer", m.deps.Consumer, errChan)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).
			Str("event", "daemon.component_failed").
			Msg("component failed, shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
		defer cancelShutdown()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Str("event", "daemon.signal").Msg("shutdown signal received")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
		defer cancelShutdown()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *Manager) startAPIServer(errChan chan<- error) {
	m.apiServer = &http.Server{
		Addr:              m.serverCfg.ListenAddr,
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
	}

	go func() {
		m.logger.Info().
			Str("event", "daemon.api_listening").
			Str("addr", m.serverCfg.ListenAddr).
			Msg("API server listening")
		if err := m.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server: %w", err)
		}
	}()
}

func (m *Manager) startMetricsServer(errChan chan<- error) {
	m.metricsServer = &http.Server{
		Addr:              m.serverCfg.MetricsAddr,
		Handler:           m.deps.MetricsHandler,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
	}

	go func() {
		m.logger.Info().
			Str("event", "daemon.metrics_listening").
			Str("addr", m.serverCfg.MetricsAddr).
			Msg("metrics server listening")
		if err := m.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()
}

// startWorker runs a loop on its own goroutine. Context cancellation is
// the clean exit path; anything else is a component failure.
func (m *Manager) startWorker(ctx context.Context, name string, r Runner, errChan chan<- error) {
	m.workerDone.Add(1)
	go func() {
		defer m.workerDone.Done()
		err := r.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("%s: %w", name, err)
			return
		}
		m.logger.Info().
			Str("event", "daemon.worker_stopped").
			Str("worker", name).
			Msg("worker stopped")
	}()
}

// Shutdown stops servers first so no new work arrives, then the worker
// loops, then runs the cleanup hooks in reverse registration order.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info().Str("event", "daemon.stopping").Msg("shutting down daemon")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if m.apiServer != nil {
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
	}
	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if m.workerCancel != nil {
		m.workerCancel()
		done := make(chan struct{})
		go func() {
			m.workerDone.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			errs = append(errs, fmt.Errorf("workers did not stop in time: %w", shutdownCtx.Err()))
		}
	}

	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		hook := m.shutdownHooks[i]
		start := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).
				Str("event", "daemon.hook_failed").
				Str("hook", hook.name).
				Dur("duration", time.Since(start)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		m.logger.Debug().
			Str("event", "daemon.hook_done").
			Str("hook", hook.name).
			Dur("duration", time.Since(start)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function. Hooks run LIFO
// during shutdown.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
}

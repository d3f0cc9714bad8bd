// SPDX-License-Identifier: MIT

// Package monitor is the scheduling orchestrator for integration health.
// It periodically fans one health-check job per active integration into
// the queue, executes single checks, owns the in-memory health table and
// reacts to status transitions. The table lives and dies with the
// process: after a restart every integration starts healthy again and is
// rediscovered by subsequent checks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/health"
	"github.com/openbookings/calsync/internal/log"
	"github.com/openbookings/calsync/internal/metrics"
	"github.com/openbookings/calsync/internal/provider"
	"github.com/openbookings/calsync/internal/telemetry"
)

// Config tunes the orchestrator.
type Config struct {
	// CheckInterval is the period between scheduled enumeration passes.
	CheckInterval time.Duration

	// CheckTimeout bounds one provider connection check.
	CheckTimeout time.Duration

	// JobTimeout bounds one whole single-check job. It must exceed
	// CheckTimeout so a slow provider fails the check, not the job.
	JobTimeout time.Duration
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 10 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 3 * c.CheckTimeout
	}
	return c
}

// ConnectionValidator assesses one integration's connection. Satisfied by
// *validator.Validator; narrowed to an interface so tests can script
// outcomes.
type ConnectionValidator interface {
	Validate(ctx context.Context, integ domain.Integration, timeout time.Duration) (domain.Integration, error)
}

// command is one message for the coordinator goroutine that owns the
// health table. All table mutations flow through it one at a time.
type command interface{ isCommand() }

type applyCmd struct {
	key     domain.ResourceKey
	success bool
	reply   chan applyResult
}

type getCmd struct {
	key   domain.ResourceKey
	reply chan getResult
}

type snapshotCmd struct {
	reply chan map[domain.ResourceKey]health.State
}

func (applyCmd) isCommand()    {}
func (getCmd) isCommand()      {}
func (snapshotCmd) isCommand() {}

type applyResult struct {
	old        health.State
	updated    health.State
	transition health.Transition
}

type getResult struct {
	state health.State
	ok    bool
}

// Monitor orchestrates health checks.
type Monitor struct {
	cfg       Config
	store     domain.Store
	queue     domain.Queue
	validator ConnectionValidator
	responder *Responder
	emitter   *telemetry.Emitter
	tracer    trace.Tracer
	now       func() time.Time

	commands chan command
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New builds a Monitor and starts its coordinator goroutine.
func New(cfg Config, store domain.Store, queue domain.Queue, v ConnectionValidator, emitter *telemetry.Emitter, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:       cfg.withDefaults(),
		store:     store,
		queue:     queue,
		validator: v,
		responder: NewResponder(store),
		emitter:   emitter,
		tracer:    telemetry.Tracer("monitor"),
		now:       time.Now,
		commands:  make(chan command),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.coordinate()
	return m
}

// Stop shuts down the coordinator. Run must have returned first. Safe to
// call from multiple goroutines.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.stopped
}

// coordinate owns the health table. Nothing else reads or writes it.
func (m *Monitor) coordinate() {
	defer close(m.stopped)
	table := make(map[domain.ResourceKey]health.State)

	for {
		select {
		case cmd := <-m.commands:
			switch c := cmd.(type) {
			case applyCmd:
				old, ok := table[c.key]
				if !ok {
					old = health.Initial()
				}
				updated := health.Update(old, c.success, m.now())
				table[c.key] = updated
				m.publishCounts(table)
				c.reply <- applyResult{
					old:        old,
					updated:    updated,
					transition: health.DetectTransition(old, updated),
				}
			case getCmd:
				state, ok := table[c.key]
				c.reply <- getResult{state: state, ok: ok}
			case snapshotCmd:
				snapshot := make(map[domain.ResourceKey]health.State, len(table))
				for k, v := range table {
					snapshot[k] = v
				}
				c.reply <- snapshot
			}
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) publishCounts(table map[domain.ResourceKey]health.State) {
	var healthy, degraded, unhealthy int
	for _, state := range table {
		switch state.Status {
		case health.StatusHealthy:
			healthy++
		case health.StatusDegraded:
			degraded++
		case health.StatusUnhealthy:
			unhealthy++
		}
	}
	metrics.SetHealthStatusCounts(healthy, degraded, unhealthy)
}

func (m *Monitor) send(ctx context.Context, cmd command) error {
	select {
	case m.commands <- cmd:
		return nil
	case <-m.stop:
		return errors.New("monitor stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PerformSingleCheck assesses one resource and drives the health machine.
// A resource missing from the store is a no-op success: there is nothing
// left to degrade.
func (m *Monitor) PerformSingleCheck(ctx context.Context, resourceType domain.ResourceType, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()

	logger := log.WithComponentFromContext(ctx, "monitor")

	if resourceType != domain.ResourceIntegration {
		logger.Warn().
			Str("event", "monitor.unknown_resource_type").
			Str("resource_type", string(resourceType)).
			Msg("no assessment defined for resource type")
		return nil
	}

	integ, err := m.store.Get(ctx, resourceID)
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		logger.Debug().
			Str("event", "monitor.resource_gone").
			Str("resource_id", resourceID).
			Msg("integration disappeared before its check ran")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load integration %s: %w", resourceID, err)
	}

	ctx, span := m.tracer.Start(ctx, "monitor.check",
		trace.WithAttributes(
			attribute.String("integration.id", integ.ID),
			attribute.String("integration.provider", string(integ.Provider)),
		))
	defer span.End()

	start := m.now()
	_, checkErr := m.validator.Validate(ctx, integ, m.cfg.CheckTimeout)
	elapsed := m.now().Sub(start)

	success := checkErr == nil
	code := provider.CodeOf(checkErr)

	// The outcome must be recorded even when the probe consumed the whole
	// job budget, so the apply and any response run on a detached context.
	applyCtx := context.WithoutCancel(ctx)

	key := domain.ResourceKey{Type: resourceType, ID: resourceID}
	apply := applyCmd{key: key, success: success, reply: make(chan applyResult, 1)}
	if err := m.send(applyCtx, apply); err != nil {
		return err
	}
	res := <-apply.reply

	if res.transition != health.TransitionNone {
		m.responder.Handle(applyCtx, integ, res.transition, code)
	}

	metrics.RecordCheck(string(integ.Provider), success, elapsed)
	m.emitCheckEvent(integ, success, code, elapsed)

	logger.Debug().
		Str("event", "monitor.check_done").
		Str("resource_id", resourceID).
		Str("provider", string(integ.Provider)).
		Bool("success", success).
		Str("status", string(res.updated.Status)).
		Dur("duration", elapsed).
		Msg("health check applied")

	if checkErr != nil {
		return fmt.Errorf("check %s: %w", key, checkErr)
	}
	return nil
}

// emitCheckEvent publishes the check outcome to the telemetry sink.
// Emission never blocks and never fails the check path.
func (m *Monitor) emitCheckEvent(integ domain.Integration, success bool, code provider.Code, elapsed time.Duration) {
	if m.emitter == nil {
		return
	}
	tags := map[string]string{
		"provider":    string(integ.Provider),
		"resource_id": integ.ID,
		"owner_id":    integ.OwnerID,
		"success":     fmt.Sprintf("%t", success),
	}
	if code != "" {
		tags["error"] = string(code)
	}
	m.emitter.Emit(telemetry.Event{
		Name:         "integration.check.stop",
		Measurements: map[string]float64{"duration_ms": float64(elapsed.Milliseconds())},
		Tags:         tags,
	})
}

// HealthStatus returns the current health state for one resource.
func (m *Monitor) HealthStatus(ctx context.Context, resourceType domain.ResourceType, resourceID string) (health.State, bool) {
	get := getCmd{key: domain.ResourceKey{Type: resourceType, ID: resourceID}, reply: make(chan getResult, 1)}
	if err := m.send(ctx, get); err != nil {
		return health.State{}, false
	}
	res := <-get.reply
	return res.state, res.ok
}

// snapshot returns a copy of the whole health table.
func (m *Monitor) snapshot(ctx context.Context) (map[domain.ResourceKey]health.State, error) {
	snap := snapshotCmd{reply: make(chan map[domain.ResourceKey]health.State, 1)}
	if err := m.send(ctx, snap); err != nil {
		return nil, err
	}
	return <-snap.reply, nil
}

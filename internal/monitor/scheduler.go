// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/log"
	"github.com/openbookings/calsync/internal/metrics"
)

// Run drives the scheduled enumeration loop until ctx is done. One pass
// runs immediately on start so a fresh process does not wait a full
// interval before discovering broken integrations.
func (m *Monitor) Run(ctx context.Context) error {
	logger := log.WithComponent("monitor")
	logger.Info().
		Str("event", "monitor.scheduler_started").
		Dur("interval", m.cfg.CheckInterval).
		Msg("health check scheduler running")

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.pass(ctx, "interval")

	for {
		select {
		case <-ticker.C:
			m.pass(ctx, "interval")
		case <-ctx.Done():
			logger.Info().Str("event", "monitor.scheduler_stopped").Msg("health check scheduler stopped")
			return ctx.Err()
		}
	}
}

// CheckAll triggers an immediate enumeration pass, bypassing the timer.
// It is fire-and-forget: the pass runs on its own goroutine.
func (m *Monitor) CheckAll(ctx context.Context) {
	go m.pass(context.WithoutCancel(ctx), "manual")
}

// pass enumerates active integrations and submits one independent job per
// integration. Enqueue failures are logged and skipped; the next pass
// retries everything.
func (m *Monitor) pass(ctx context.Context, trigger string) {
	logger := log.WithComponent("monitor")

	ctx, span := m.tracer.Start(ctx, "monitor.pass",
		trace.WithAttributes(attribute.String("trigger", trigger)))
	defer span.End()

	metrics.RecordSchedulerPass(trigger)

	active, err := m.store.ListActive(ctx)
	if err != nil {
		logger.Error().Err(err).
			Str("event", "monitor.enumerate_failed").
			Str("trigger", trigger).
			Msg("failed to enumerate active integrations")
		return
	}

	enqueued := 0
	for _, integ := range active {
		job := domain.Job{
			ID:           uuid.NewString(),
			ResourceType: domain.ResourceIntegration,
			ResourceID:   integ.ID,
		}
		if err := m.queue.Enqueue(ctx, job); err != nil {
			logger.Warn().Err(err).
				Str("event", "monitor.enqueue_failed").
				Str("resource_id", integ.ID).
				Msg("failed to enqueue health check job")
			continue
		}
		metrics.RecordJobEnqueued()
		enqueued++
	}

	logger.Info().
		Str("event", "monitor.pass_done").
		Str("trigger", trigger).
		Int("active", len(active)).
		Int("enqueued", enqueued).
		Msg("scheduling pass completed")
}

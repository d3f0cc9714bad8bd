// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/health"
	"github.com/openbookings/calsync/internal/log"
	"github.com/openbookings/calsync/internal/metrics"
	"github.com/openbookings/calsync/internal/provider"
)

// Responder reacts to detected health transitions. Going unhealthy
// deactivates the integration; recovery and degradation are log-only.
// Recovery never reactivates: the owner has to re-enable the integration
// deliberately after it was shut off.
type Responder struct {
	store  domain.Store
	logger zerolog.Logger
}

// NewResponder builds a Responder on the given store.
func NewResponder(store domain.Store) *Responder {
	return &Responder{store: store, logger: log.WithComponent("monitor")}
}

// Handle applies the response action for one transition. It is idempotent:
// deactivating an already-inactive or already-deleted integration is safe.
func (r *Responder) Handle(ctx context.Context, integ domain.Integration, transition health.Transition, code provider.Code) {
	logger := log.WithContext(ctx, r.logger).With().
		Str("resource_id", integ.ID).
		Str("owner_id", integ.OwnerID).
		Str("provider", string(integ.Provider)).
		Logger()

	switch transition {
	case health.TransitionUnhealthy:
		r.deactivate(ctx, logger, integ, code)
	case health.TransitionRecovered:
		logger.Info().
			Str("event", "monitor.integration_recovered").
			Msg("integration recovered; not reactivating automatically")
	case health.TransitionDegraded:
		logger.Warn().
			Str("event", "monitor.integration_degraded").
			Str("error", string(code)).
			Msg("integration started failing")
	}
}

func (r *Responder) deactivate(ctx context.Context, logger zerolog.Logger, integ domain.Integration, code provider.Code) {
	_, err := r.store.SetActive(ctx, integ.ID, false)
	if err != nil && !errors.Is(err, domain.ErrIntegrationNotFound) {
		logger.Error().Err(err).
			Str("event", "monitor.deactivate_failed").
			Msg("failed to deactivate unhealthy integration")
		return
	}

	metrics.RecordDeactivation(string(integ.Provider))
	logger.Error().
		Str("event", "monitor.integration_deactivated").
		Str("error", string(code)).
		Bool("transient", provider.Transient(code)).
		Bool("auth_failure", provider.AuthFailure(code)).
		Msg("integration went unhealthy and was deactivated")
}

// SPDX-License-Identifier: MIT

// Package availability answers free/busy queries across an owner's active
// integrations. Concurrent identical queries are coalesced into a single
// upstream fan-out.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openbookings/calsync/internal/coalesce"
	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/log"
	"github.com/openbookings/calsync/internal/provider"
)

// Resolver maps a provider kind to its implementation. It matches
// provider.Resolve and exists so tests can substitute fakes.
type Resolver func(kind domain.Kind) (provider.Provider, error)

// Service serves busy-window queries. All fetches for the same
// (owner, from, to) tuple share one upstream round trip.
type Service struct {
	store     domain.Store
	resolve   Resolver
	coalescer *coalesce.Coalescer[domain.AvailabilityKey, []domain.BusySlot]
}

// Option configures a Service.
type Option func(*Service)

// WithResolver overrides provider resolution.
func WithResolver(r Resolver) Option {
	return func(s *Service) { s.resolve = r }
}

// New builds a Service. maxInFlight bounds one upstream fan-out; zero
// uses the coalescer default.
func New(store domain.Store, maxInFlight time.Duration, opts ...Option) *Service {
	s := &Service{
		store:   store,
		resolve: provider.Resolve,
		coalescer: coalesce.New[domain.AvailabilityKey, []domain.BusySlot](
			"availability", coalesce.WithMaxInFlight(maxInFlight)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops the coalescer. Pending queries fail.
func (s *Service) Close() {
	s.coalescer.Stop()
}

// Busy returns the merged busy windows of all the owner's active
// integrations between from and to, sorted by start time. Keys are
// normalized to UTC so equal instants coalesce regardless of the caller's
// zone.
func (s *Service) Busy(ctx context.Context, ownerID string, from, to time.Time) ([]domain.BusySlot, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("availability window end %s is not after start %s", to, from)
	}

	key := domain.AvailabilityKey{
		OwnerID: ownerID,
		From:    from.UTC().Round(0),
		To:      to.UTC().Round(0),
	}
	return s.coalescer.Do(ctx, key, func(ctx context.Context) ([]domain.BusySlot, error) {
		return s.fetch(ctx, key)
	})
}

// fetch is the single upstream round trip behind one coalesced key. A
// provider that cannot answer free/busy queries is skipped; a provider
// that fails poisons the whole fetch so every waiter sees the same error.
func (s *Service) fetch(ctx context.Context, key domain.AvailabilityKey) ([]domain.BusySlot, error) {
	logger := log.WithComponentFromContext(ctx, "availability")

	integrations, err := s.store.ListByOwner(ctx, key.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list integrations for owner %s: %w", key.OwnerID, err)
	}

	var slots []domain.BusySlot
	for _, integ := range integrations {
		if !integ.IsActive {
			continue
		}
		p, err := s.resolve(integ.Provider)
		if err != nil {
			return nil, err
		}
		reader, ok := p.(provider.BusyReader)
		if !ok {
			logger.Debug().
				Str("event", "availability.provider_skipped").
				Str("provider", string(integ.Provider)).
				Msg("provider cannot answer free/busy queries")
			continue
		}

		windows, err := reader.BusyWindows(ctx, integ.Creds, key.From, key.To)
		if err != nil {
			return nil, fmt.Errorf("busy windows from %s integration %s: %w", integ.Provider, integ.ID, err)
		}
		slots = append(slots, windows...)
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

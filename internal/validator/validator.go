// SPDX-License-Identifier: MIT

// Package validator bounds the latency of a single provider connectivity
// check and normalizes every failure into the closed taxonomy.
package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/log"
	"github.com/openbookings/calsync/internal/provider"
)

// DefaultTimeout bounds one connection check unless the caller overrides it.
const DefaultTimeout = 10 * time.Second

// Resolver looks up the capability module for a provider kind. It exists
// so tests can substitute fake providers for the static registry.
type Resolver func(kind domain.Kind) (provider.Provider, error)

// Validator runs timeout-bounded connection checks.
type Validator struct {
	resolve Resolver
	now     func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithResolver overrides the provider lookup.
func WithResolver(r Resolver) Option {
	return func(v *Validator) { v.resolve = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New builds a Validator backed by the static provider registry.
func New(opts ...Option) *Validator {
	v := &Validator{
		resolve: provider.Resolve,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type probeResult struct {
	integ domain.Integration
	err   error
}

// Validate assesses the integration's connection within timeout. On
// success the returned integration may carry refreshed credentials. All
// failures are classified; an unknown provider fails immediately without
// spawning a worker or consuming any of the timeout budget.
func (v *Validator) Validate(ctx context.Context, integ domain.Integration, timeout time.Duration) (domain.Integration, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p, err := v.resolve(integ.Provider)
	if err != nil {
		return integ, provider.Classify(err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a worker finishing after the deadline can still exit.
	result := make(chan probeResult, 1)
	go v.probe(probeCtx, p, integ, result)

	select {
	case res := <-result:
		if res.err != nil {
			return integ, provider.Classify(res.err)
		}
		return res.integ, nil
	case <-probeCtx.Done():
		// cancel (via defer) tears the worker's context down, so the
		// probe cannot outlive this call.
		if ctx.Err() != nil {
			return integ, provider.WrapError(provider.CodeTimeout, ctx.Err())
		}
		return integ, provider.NewError(provider.CodeTimeout,
			fmt.Sprintf("connection check exceeded %s", timeout))
	}
}

// probe runs the provider-family specific liveness check on a detached
// worker goroutine. A panic inside a capability call is reported as
// worker_died rather than crashing the caller.
func (v *Validator) probe(ctx context.Context, p provider.Provider, integ domain.Integration, result chan<- probeResult) {
	defer func() {
		if r := recover(); r != nil {
			logger := log.WithComponent("validator")
			logger.Error().
				Str("event", "validator.worker_died").
				Str("integration_id", integ.ID).
				Str("provider", string(integ.Provider)).
				Interface("panic", r).
				Msg("connection probe panicked")
			result <- probeResult{
				integ: integ,
				err:   provider.NewError(provider.CodeWorkerDied, fmt.Sprint(r)),
			}
		}
	}()

	if oauth, ok := p.(provider.OAuthProvider); ok {
		updated, err := v.probeOAuth(ctx, oauth, integ)
		result <- probeResult{integ: updated, err: err}
		return
	}
	result <- probeResult{integ: integ, err: v.probeCalDAV(ctx, p, integ.Creds)}
}

// probeOAuth ensures the token is usable, refreshing it when expired, then
// runs the connectivity probe. A failed refresh is a token_expired outcome.
func (v *Validator) probeOAuth(ctx context.Context, p provider.OAuthProvider, integ domain.Integration) (domain.Integration, error) {
	creds := integ.Creds
	if !p.TokenValid(creds, v.now()) {
		refreshed, err := p.RefreshToken(ctx, creds)
		if err != nil {
			return integ, provider.WrapError(provider.CodeTokenExpired, err)
		}
		creds = refreshed
		integ.Creds = refreshed
	}

	if err := p.TestConnection(ctx, creds); err != nil {
		return integ, err
	}
	return integ, nil
}

// probeCalDAV validates the client configuration and uses calendar
// discovery as the liveness signal.
func (v *Validator) probeCalDAV(ctx context.Context, p provider.Provider, creds domain.Credentials) error {
	if err := p.ValidateConfig(creds); err != nil {
		return err
	}
	_, err := p.DiscoverCalendars(ctx, creds)
	return err
}

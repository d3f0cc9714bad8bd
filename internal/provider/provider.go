// SPDX-License-Identifier: MIT

// Package provider implements the closed registry of calendar backends and
// the capability set every backend exposes: config validation, calendar
// discovery and a connectivity probe. OAuth-family backends additionally
// support token inspection and refresh.
package provider

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/openbookings/calsync/internal/domain"
)

// Provider is the fixed capability set shared by every backend family.
type Provider interface {
	// Kind returns the provider discriminant this module serves.
	Kind() domain.Kind

	// ValidateConfig checks the credentials for structural completeness
	// without touching the network.
	ValidateConfig(creds domain.Credentials) error

	// DiscoverCalendars lists the calendars reachable with the given
	// credentials. For CalDAV-family backends this doubles as the
	// liveness probe.
	DiscoverCalendars(ctx context.Context, creds domain.Credentials) ([]domain.Calendar, error)

	// TestConnection performs a minimal connectivity probe.
	TestConnection(ctx context.Context, creds domain.Credentials) error
}

// OAuthProvider extends the capability set with token lifecycle support.
type OAuthProvider interface {
	Provider

	// TokenValid reports whether the access token is still usable.
	TokenValid(creds domain.Credentials, now time.Time) bool

	// RefreshToken exchanges the refresh token for fresh credentials.
	RefreshToken(ctx context.Context, creds domain.Credentials) (domain.Credentials, error)
}

// BusyReader is implemented by backends that can answer free/busy queries.
// Availability reads go through this capability.
type BusyReader interface {
	// BusyWindows returns the busy intervals between from and to.
	BusyWindows(ctx context.Context, creds domain.Credentials, from, to time.Time) ([]domain.BusySlot, error)
}

// registry is the closed compile-time provider table. It is never mutated
// at runtime.
var registry = buildRegistry(defaultHTTPClient())

func buildRegistry(client *http.Client) map[domain.Kind]Provider {
	return map[domain.Kind]Provider{
		domain.KindCalDAV:    newCalDAV(domain.KindCalDAV, client),
		domain.KindRadicale:  newCalDAV(domain.KindRadicale, client),
		domain.KindNextcloud: newCalDAV(domain.KindNextcloud, client),
		domain.KindGoogle:    newGoogle(client),
		domain.KindOutlook:   newOutlook(client),
	}
}

// Validate maps a provider name onto its discriminant, rejecting names
// outside the closed set.
func Validate(name string) (domain.Kind, error) {
	kind, err := domain.ParseKind(name)
	if err != nil {
		return "", WrapError(CodeUnsupportedProvider, err)
	}
	if _, ok := registry[kind]; !ok {
		return "", NewError(CodeModuleUnavailable, string(kind))
	}
	return kind, nil
}

// Resolve returns the capability module for a discriminant.
func Resolve(kind domain.Kind) (Provider, error) {
	p, ok := registry[kind]
	if !ok {
		return nil, NewError(CodeUnsupportedProvider, string(kind))
	}
	return p, nil
}

// defaultHTTPClient builds the shared outbound client. A token-bucket
// limiter in the transport throttles bursts against provider APIs.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &throttledTransport{
			base:    http.DefaultTransport,
			limiter: rate.NewLimiter(rate.Limit(20), 40),
		},
	}
}

// throttledTransport rate-limits outbound provider requests.
type throttledTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

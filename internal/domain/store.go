// SPDX-License-Identifier: MIT

package domain

import (
	"context"
	"errors"
)

var (
	// ErrIntegrationNotFound is returned by stores when no integration
	// exists for the requested ID.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrUnknownProvider is returned when a provider name or kind is not
	// part of the closed provider set.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Store is the CRUD collaborator holding integrations. This layer only
// reads integrations and requests deactivation; creation and updates
// belong to the scheduling application.
type Store interface {
	// Get returns the integration with the given ID.
	// Returns ErrIntegrationNotFound if it does not exist.
	Get(ctx context.Context, id string) (Integration, error)

	// ListActive returns every integration with IsActive set.
	ListActive(ctx context.Context) ([]Integration, error)

	// ListByOwner returns every integration belonging to the owner,
	// active or not.
	ListByOwner(ctx context.Context, ownerID string) ([]Integration, error)

	// SetActive flips the active flag and returns the updated integration.
	SetActive(ctx context.Context, id string, active bool) (Integration, error)
}

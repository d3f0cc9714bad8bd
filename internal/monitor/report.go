// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"fmt"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/health"
)

// ResourceHealth is one integration's entry in an owner report.
type ResourceHealth struct {
	ResourceID string       `json:"resource_id"`
	Provider   domain.Kind  `json:"provider"`
	IsActive   bool         `json:"is_active"`
	State      health.State `json:"state"`
}

// Report aggregates the health of all of one owner's integrations.
type Report struct {
	OwnerID   string                `json:"owner_id"`
	Resources []ResourceHealth      `json:"resources"`
	Counts    map[health.Status]int `json:"counts"`
}

// OwnerReport builds the aggregate health report for one owner. Resources
// that have never been checked report the initial (healthy) state.
func (m *Monitor) OwnerReport(ctx context.Context, ownerID string) (Report, error) {
	integrations, err := m.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return Report{}, fmt.Errorf("list integrations for owner %s: %w", ownerID, err)
	}

	table, err := m.snapshot(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		OwnerID:   ownerID,
		Resources: make([]ResourceHealth, 0, len(integrations)),
		Counts: map[health.Status]int{
			health.StatusHealthy:   0,
			health.StatusDegraded:  0,
			health.StatusUnhealthy: 0,
		},
	}

	for _, integ := range integrations {
		key := domain.ResourceKey{Type: domain.ResourceIntegration, ID: integ.ID}
		state, ok := table[key]
		if !ok {
			state = health.Initial()
		}
		report.Resources = append(report.Resources, ResourceHealth{
			ResourceID: integ.ID,
			Provider:   integ.Provider,
			IsActive:   integ.IsActive,
			State:      state,
		})
		report.Counts[state.Status]++
	}
	return report, nil
}

// SPDX-License-Identifier: MIT

// Package store provides Integration store implementations: an in-memory
// store for tests and development, and a SQLite-backed store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openbookings/calsync/internal/domain"
)

// Memory is a thread-safe in-memory Store.
type Memory struct {
	mu           sync.RWMutex
	integrations map[string]domain.Integration
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{integrations: make(map[string]domain.Integration)}
}

// Put inserts or replaces an integration. Only tests and the scheduling
// application write integrations; the reliability layer reads them.
func (m *Memory) Put(integ domain.Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if integ.CreatedAt.IsZero() {
		integ.CreatedAt = time.Now()
	}
	integ.UpdatedAt = time.Now()
	m.integrations[integ.ID] = integ
}

// Get implements domain.Store.
func (m *Memory) Get(_ context.Context, id string) (domain.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	integ, ok := m.integrations[id]
	if !ok {
		return domain.Integration{}, domain.ErrIntegrationNotFound
	}
	return integ, nil
}

// ListActive implements domain.Store.
func (m *Memory) ListActive(_ context.Context) ([]domain.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Integration
	for _, integ := range m.integrations {
		if integ.IsActive {
			out = append(out, integ)
		}
	}
	sortByID(out)
	return out, nil
}

// ListByOwner implements domain.Store.
func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]domain.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Integration
	for _, integ := range m.integrations {
		if integ.OwnerID == ownerID {
			out = append(out, integ)
		}
	}
	sortByID(out)
	return out, nil
}

// SetActive implements domain.Store.
func (m *Memory) SetActive(_ context.Context, id string, active bool) (domain.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	integ, ok := m.integrations[id]
	if !ok {
		return domain.Integration{}, domain.ErrIntegrationNotFound
	}
	integ.IsActive = active
	integ.UpdatedAt = time.Now()
	m.integrations[id] = integ
	return integ, nil
}

func sortByID(items []domain.Integration) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

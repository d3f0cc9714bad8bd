// SPDX-License-Identifier: MIT

// Package domain holds the core entities shared across the integration
// reliability layer: calendar integrations, provider kinds, credentials and
// the collaborator interfaces (store, queue) the layer depends on.
package domain

import (
	"fmt"
	"time"
)

// Kind identifies a calendar provider family. The set is closed; adding a
// provider requires a new constant and a registry entry.
type Kind string

const (
	KindCalDAV    Kind = "caldav"
	KindRadicale  Kind = "radicale"
	KindNextcloud Kind = "nextcloud"
	KindGoogle    Kind = "google"
	KindOutlook   Kind = "outlook"
)

// Kinds lists every supported provider kind.
func Kinds() []Kind {
	return []Kind{KindCalDAV, KindRadicale, KindNextcloud, KindGoogle, KindOutlook}
}

// ParseKind maps a provider name to its Kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindCalDAV, KindRadicale, KindNextcloud, KindGoogle, KindOutlook:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// OAuth reports whether the kind belongs to the OAuth provider family.
func (k Kind) OAuth() bool {
	return k == KindGoogle || k == KindOutlook
}

// ResourceType names the category of a monitored resource.
type ResourceType string

const (
	ResourceIntegration ResourceType = "integration"
)

// ResourceKey addresses one monitored resource in the health table.
type ResourceKey struct {
	Type ResourceType
	ID   string
}

func (k ResourceKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Integration is a connected third-party calendar account. It is owned by
// the CRUD layer; this core reads it and may only request deactivation.
type Integration struct {
	ID        string
	OwnerID   string
	Provider  Kind
	Creds     Credentials
	IsActive  bool
	Selection SelectionState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SelectionState records which upstream calendars the owner chose to sync.
type SelectionState struct {
	CalendarIDs []string
	Primary     string
}

// Calendar describes one upstream calendar discovered on a provider.
type Calendar struct {
	ID       string
	Name     string
	Primary  bool
	ReadOnly bool
}

// BusySlot is one opaque busy interval returned by an availability fetch.
type BusySlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AvailabilityKey identifies one logical availability fetch. Two fetches
// are the same request iff the full tuple matches exactly.
type AvailabilityKey struct {
	OwnerID string
	From    time.Time
	To      time.Time
}

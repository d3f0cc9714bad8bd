// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbookings/calsync/internal/domain"
)

func sampleIntegration(id, owner string, active bool) domain.Integration {
	return domain.Integration{
		ID:       id,
		OwnerID:  owner,
		Provider: domain.KindNextcloud,
		IsActive: active,
		Creds: domain.Credentials{
			ServerURL: "https://cloud.example.com",
			Username:  "alice",
			Password:  "secret",
		},
		Selection: domain.SelectionState{CalendarIDs: []string{"/cal/work/"}, Primary: "/cal/work/"},
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Put(sampleIntegration("a", "owner-1", true))
	m.Put(sampleIntegration("b", "owner-1", false))
	m.Put(sampleIntegration("c", "owner-2", true))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)

	active, err := m.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)

	owned, err := m.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	updated, err := m.SetActive(ctx, "a", false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	active, err = m.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = m.SetActive(ctx, "missing", false)
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)
}

func newSQLite(t *testing.T) *SQLite {
	t.Helper()

	sealer, err := domain.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "calsync.db"), sealer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	want := sampleIntegration("int-1", "owner-1", true)
	require.NoError(t, s.Put(ctx, want))

	got, err := s.Get(ctx, "int-1")
	require.NoError(t, err)

	diff := cmp.Diff(want, got,
		cmpopts.IgnoreFields(domain.Integration{}, "CreatedAt", "UpdatedAt"))
	assert.Empty(t, diff)
	assert.Equal(t, "secret", got.Creds.Password, "credentials open transparently")
}

func TestSQLiteNotFound(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)

	_, err = s.SetActive(ctx, "missing", false)
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)
}

func TestSQLiteListActiveAndSetActive(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	require.NoError(t, s.Put(ctx, sampleIntegration("a", "owner-1", true)))
	require.NoError(t, s.Put(ctx, sampleIntegration("b", "owner-1", true)))
	require.NoError(t, s.Put(ctx, sampleIntegration("c", "owner-2", false)))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	updated, err := s.SetActive(ctx, "a", false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	active, err = s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)

	// SetActive is idempotent.
	_, err = s.SetActive(ctx, "a", false)
	require.NoError(t, err)
}

func TestSQLiteListByOwner(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	require.NoError(t, s.Put(ctx, sampleIntegration("a", "owner-1", true)))
	require.NoError(t, s.Put(ctx, sampleIntegration("b", "owner-2", true)))

	owned, err := s.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "a", owned[0].ID)
}

func TestSQLitePutUpserts(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	integ := sampleIntegration("a", "owner-1", true)
	require.NoError(t, s.Put(ctx, integ))

	integ.Creds.Password = "rotated"
	require.NoError(t, s.Put(ctx, integ))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Creds.Password)
}

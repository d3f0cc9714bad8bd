// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver

	"github.com/openbookings/calsync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS integrations (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	provider   TEXT NOT NULL,
	creds      TEXT NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 1,
	selection  TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_integrations_owner ON integrations(owner_id);
CREATE INDEX IF NOT EXISTS idx_integrations_active ON integrations(is_active);
`

// SQLite is a Store backed by an embedded SQLite database. Credentials are
// sealed at rest; only this process's sealer can read them back.
type SQLite struct {
	db     *sql.DB
	sealer *domain.Sealer
}

// OpenSQLite opens (and if needed initialises) the database at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string, sealer *domain.Sealer) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent health updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLite{db: db, sealer: sealer}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Put inserts or replaces an integration.
func (s *SQLite) Put(ctx context.Context, integ domain.Integration) error {
	creds, err := s.sealer.Seal(integ.Creds)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	selection, err := json.Marshal(integ.Selection)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}

	now := time.Now().UTC()
	created := integ.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, owner_id, provider, creds, is_active, selection, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			provider = excluded.provider,
			creds = excluded.creds,
			is_active = excluded.is_active,
			selection = excluded.selection,
			updated_at = excluded.updated_at`,
		integ.ID, integ.OwnerID, string(integ.Provider), creds,
		boolToInt(integ.IsActive), string(selection), created, now)
	if err != nil {
		return fmt.Errorf("upsert integration: %w", err)
	}
	return nil
}

// Get implements domain.Store.
func (s *SQLite) Get(ctx context.Context, id string) (domain.Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, provider, creds, is_active, selection, created_at, updated_at
		FROM integrations WHERE id = ?`, id)

	integ, err := s.scan(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Integration{}, domain.ErrIntegrationNotFound
	}
	return integ, err
}

// ListActive implements domain.Store.
func (s *SQLite) ListActive(ctx context.Context) ([]domain.Integration, error) {
	return s.list(ctx, `
		SELECT id, owner_id, provider, creds, is_active, selection, created_at, updated_at
		FROM integrations WHERE is_active = 1 ORDER BY id`)
}

// ListByOwner implements domain.Store.
func (s *SQLite) ListByOwner(ctx context.Context, ownerID string) ([]domain.Integration, error) {
	return s.list(ctx, `
		SELECT id, owner_id, provider, creds, is_active, selection, created_at, updated_at
		FROM integrations WHERE owner_id = ? ORDER BY id`, ownerID)
}

// SetActive implements domain.Store.
func (s *SQLite) SetActive(ctx context.Context, id string, active bool) (domain.Integration, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("set active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Integration{}, fmt.Errorf("set active: %w", err)
	}
	if affected == 0 {
		return domain.Integration{}, domain.ErrIntegrationNotFound
	}
	return s.Get(ctx, id)
}

func (s *SQLite) list(ctx context.Context, query string, args ...any) ([]domain.Integration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query integrations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Integration
	for rows.Next() {
		integ, err := s.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, integ)
	}
	return out, rows.Err()
}

func (s *SQLite) scan(scan func(...any) error) (domain.Integration, error) {
	var (
		integ     domain.Integration
		prov      string
		creds     string
		active    int
		selection string
	)
	if err := scan(&integ.ID, &integ.OwnerID, &prov, &creds, &active,
		&selection, &integ.CreatedAt, &integ.UpdatedAt); err != nil {
		return domain.Integration{}, err
	}

	kind, err := domain.ParseKind(prov)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("integration %s: %w", integ.ID, err)
	}
	integ.Provider = kind
	integ.IsActive = active != 0

	opened, err := s.sealer.Open(creds)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("integration %s: %w", integ.ID, err)
	}
	integ.Creds = opened

	if err := json.Unmarshal([]byte(selection), &integ.Selection); err != nil {
		return domain.Integration{}, fmt.Errorf("integration %s selection: %w", integ.ID, err)
	}
	return integ, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

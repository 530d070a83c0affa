package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// GetTenant loads one tenant.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, webhook_secret, default_credentials, created_at
		FROM tenants WHERE id = ?`, tenantID)
	return scanTenant(row)
}

// ListTenants returns all tenants, for the periodic sweeps.
func (s *Store) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, webhook_secret, default_credentials, created_at
		FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// GetAPIKey loads an API key with its capability grants.
func (s *Store) GetAPIKey(ctx context.Context, key string) (*domain.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, tenant_id, capabilities, revoked_at, created_at
		FROM api_keys WHERE key = ?`, key)

	var k domain.APIKey
	var capabilities string
	var revoked sql.NullTime

	err := row.Scan(&k.Key, &k.TenantID, &capabilities, &revoked, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}

	if revoked.Valid {
		k.RevokedAt = &revoked.Time
	}
	if err := unmarshalJSON(capabilities, &k.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to decode capabilities: %w", err)
	}
	return &k, nil
}

// EnabledDestinations lists a tenant's enabled destinations.
func (s *Store) EnabledDestinations(ctx context.Context, tenantID string) ([]*domain.Destination, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, kind, name, enabled, credentials, last_error, updated_at
		FROM destinations WHERE tenant_id = ? AND enabled = 1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	var destinations []*domain.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, d)
	}
	return destinations, rows.Err()
}

// GetDestination loads one destination.
func (s *Store) GetDestination(ctx context.Context, destinationID string) (*domain.Destination, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, kind, name, enabled, credentials, last_error, updated_at
		FROM destinations WHERE id = ?`, destinationID)
	return scanDestination(row)
}

// SetDestinationError records the destination's most recent delivery error;
// pass an empty string to clear it.
func (s *Store) SetDestinationError(ctx context.Context, destinationID, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE destinations SET last_error = ? WHERE id = ?`, lastError, destinationID)
	if err != nil {
		return fmt.Errorf("failed to set destination error: %w", err)
	}
	return nil
}

// IncrementUsage adds one event to the tenant's billing period counter,
// creating the period row if absent.
func (s *Store) IncrementUsage(ctx context.Context, tenantID, period string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (tenant_id, period, events_count)
		VALUES (?, ?, 1)
		ON CONFLICT(tenant_id, period) DO UPDATE SET
			events_count = events_count + 1`,
		tenantID, period)
	if err != nil {
		return fmt.Errorf("failed to increment usage counter: %w", err)
	}
	return nil
}

// UpsertTenant creates or updates a tenant.
func (s *Store) UpsertTenant(ctx context.Context, t *domain.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, webhook_secret, default_credentials, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			webhook_secret = excluded.webhook_secret,
			default_credentials = excluded.default_credentials`,
		t.ID, t.Name, t.WebhookSecret, mustJSON(t.DefaultCredentials), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return nil
}

// UpsertAPIKey creates or updates an API key.
func (s *Store) UpsertAPIKey(ctx context.Context, k *domain.APIKey) error {
	var revoked any
	if k.RevokedAt != nil {
		revoked = *k.RevokedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key, tenant_id, capabilities, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			capabilities = excluded.capabilities,
			revoked_at = excluded.revoked_at`,
		k.Key, k.TenantID, mustJSON(k.Capabilities), revoked, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert api key: %w", err)
	}
	return nil
}

// UpsertDestination creates or updates a destination.
func (s *Store) UpsertDestination(ctx context.Context, d *domain.Destination) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO destinations (id, tenant_id, kind, name, enabled, credentials, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			enabled = excluded.enabled,
			credentials = excluded.credentials,
			updated_at = excluded.updated_at`,
		d.ID, d.TenantID, d.Kind, d.Name, d.Enabled,
		mustJSON(d.Credentials), d.LastError, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert destination: %w", err)
	}
	return nil
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var t domain.Tenant
	var credentials string

	err := row.Scan(&t.ID, &t.Name, &t.WebhookSecret, &credentials, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}

	if err := unmarshalJSON(credentials, &t.DefaultCredentials); err != nil {
		return nil, fmt.Errorf("failed to decode tenant credentials: %w", err)
	}
	return &t, nil
}

func scanDestination(row rowScanner) (*domain.Destination, error) {
	var d domain.Destination
	var credentials string

	err := row.Scan(&d.ID, &d.TenantID, &d.Kind, &d.Name, &d.Enabled,
		&credentials, &d.LastError, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan destination: %w", err)
	}

	if err := unmarshalJSON(credentials, &d.Credentials); err != nil {
		return nil, fmt.Errorf("failed to decode destination credentials: %w", err)
	}
	return &d, nil
}

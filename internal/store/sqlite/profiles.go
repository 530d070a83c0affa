package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// CreateProfile inserts a new unified profile.
func (s *Store) CreateProfile(ctx context.Context, p *domain.UnifiedProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles
			(id, tenant_id, primary_email, emails, phone, customer_ids,
			 anonymous_ids, traits, computed, first_seen_at, last_seen_at, merged_into)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')`,
		p.ID, p.TenantID, p.PrimaryEmail, mustJSON(p.Emails), p.Phone,
		mustJSON(p.CustomerIDs), mustJSON(p.AnonymousIDs), mustJSON(p.Traits),
		mustJSON(p.Computed), p.FirstSeenAt, p.LastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// GetProfile loads one profile by id.
func (s *Store) GetProfile(ctx context.Context, tenantID, profileID string) (*domain.UnifiedProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, primary_email, emails, phone, customer_ids,
		       anonymous_ids, traits, computed, first_seen_at, last_seen_at, merged_into
		FROM profiles WHERE tenant_id = ? AND id = ?`, tenantID, profileID)
	return scanProfile(row)
}

// UpdateProfile overwrites the profile's mutable columns.
func (s *Store) UpdateProfile(ctx context.Context, p *domain.UnifiedProfile) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET
			primary_email = ?, emails = ?, phone = ?, customer_ids = ?,
			anonymous_ids = ?, traits = ?, computed = ?, last_seen_at = ?
		WHERE tenant_id = ? AND id = ?`,
		p.PrimaryEmail, mustJSON(p.Emails), p.Phone, mustJSON(p.CustomerIDs),
		mustJSON(p.AnonymousIDs), mustJSON(p.Traits), mustJSON(p.Computed),
		p.LastSeenAt, p.TenantID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// TouchLastSeen advances last_seen_at only.
func (s *Store) TouchLastSeen(ctx context.Context, tenantID, profileID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET last_seen_at = ?
		WHERE tenant_id = ? AND id = ? AND last_seen_at < ?`,
		at, tenantID, profileID, at)
	if err != nil {
		return fmt.Errorf("failed to touch profile: %w", err)
	}
	return nil
}

// LookupLink finds the link owning a fragment.
func (s *Store) LookupLink(ctx context.Context, tenantID string, fragment domain.Fragment) (*domain.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, fragment_type, fragment_value, profile_id, source, confidence, created_at
		FROM identity_links
		WHERE tenant_id = ? AND fragment_type = ? AND fragment_value = ?`,
		tenantID, fragment.Type, fragment.Value)

	var link domain.IdentityLink
	err := row.Scan(&link.TenantID, &link.Type, &link.Value, &link.ProfileID,
		&link.Source, &link.Confidence, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup identity link: %w", err)
	}
	return &link, nil
}

// UpsertLink inserts a link, ignoring duplicate fragment claims.
func (s *Store) UpsertLink(ctx context.Context, link *domain.IdentityLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_links
			(tenant_id, fragment_type, fragment_value, profile_id, source, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, fragment_type, fragment_value) DO NOTHING`,
		link.TenantID, link.Type, link.Value, link.ProfileID,
		link.Source, link.Confidence, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert identity link: %w", err)
	}
	return nil
}

// MergeProfiles applies a computed merge in one immediate transaction so no
// concurrent merge can observe the losers half-rewritten.
func (s *Store) MergeProfiles(ctx context.Context, primary *domain.UnifiedProfile, loserIDs []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE profiles SET
			primary_email = ?, emails = ?, phone = ?, customer_ids = ?,
			anonymous_ids = ?, traits = ?, computed = ?, last_seen_at = ?
		WHERE tenant_id = ? AND id = ?`,
		primary.PrimaryEmail, mustJSON(primary.Emails), primary.Phone,
		mustJSON(primary.CustomerIDs), mustJSON(primary.AnonymousIDs),
		mustJSON(primary.Traits), mustJSON(primary.Computed),
		primary.LastSeenAt, primary.TenantID, primary.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite primary profile: %w", err)
	}

	var eventsMoved int64
	for _, loserID := range loserIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE identity_links SET profile_id = ? WHERE tenant_id = ? AND profile_id = ?`,
			primary.ID, primary.TenantID, loserID); err != nil {
			return 0, fmt.Errorf("failed to re-point identity links: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE events SET profile_id = ? WHERE tenant_id = ? AND profile_id = ?`,
			primary.ID, primary.TenantID, loserID)
		if err != nil {
			return 0, fmt.Errorf("failed to re-point events: %w", err)
		}
		moved, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count re-pointed events: %w", err)
		}
		eventsMoved += moved
		if _, err := tx.ExecContext(ctx,
			`UPDATE profiles SET merged_into = ? WHERE tenant_id = ? AND id = ?`,
			primary.ID, primary.TenantID, loserID); err != nil {
			return 0, fmt.Errorf("failed to mark merged profile: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit merge: %w", err)
	}
	return eventsMoved, nil
}

// ActiveProfileIDs lists unmerged profiles seen since the cutoff that hold
// at least one identity link.
func (s *Store) ActiveProfileIDs(ctx context.Context, tenantID string, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id FROM profiles p
		WHERE p.tenant_id = ? AND p.merged_into = '' AND p.last_seen_at >= ?
		  AND EXISTS (SELECT 1 FROM identity_links l WHERE l.profile_id = p.id)
		ORDER BY p.last_seen_at DESC`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active profiles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.UnifiedProfile, error) {
	var p domain.UnifiedProfile
	var emails, customerIDs, anonymousIDs, traits, computed string

	err := row.Scan(&p.ID, &p.TenantID, &p.PrimaryEmail, &emails, &p.Phone,
		&customerIDs, &anonymousIDs, &traits, &computed,
		&p.FirstSeenAt, &p.LastSeenAt, &p.MergedInto)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	if err := json.Unmarshal([]byte(emails), &p.Emails); err != nil {
		return nil, fmt.Errorf("failed to decode emails: %w", err)
	}
	if err := json.Unmarshal([]byte(customerIDs), &p.CustomerIDs); err != nil {
		return nil, fmt.Errorf("failed to decode customer ids: %w", err)
	}
	if err := json.Unmarshal([]byte(anonymousIDs), &p.AnonymousIDs); err != nil {
		return nil, fmt.Errorf("failed to decode anonymous ids: %w", err)
	}
	if err := json.Unmarshal([]byte(traits), &p.Traits); err != nil {
		return nil, fmt.Errorf("failed to decode traits: %w", err)
	}
	if err := json.Unmarshal([]byte(computed), &p.Computed); err != nil {
		return nil, fmt.Errorf("failed to decode computed traits: %w", err)
	}
	return &p, nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// mustJSON serializes store-controlled values; these types cannot fail to
// marshal.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

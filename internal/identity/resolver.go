// Package identity resolves identity fragments to unified profiles and
// merges profiles discovered to be the same person.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/store"
)

// Resolution is the outcome of resolving a fragment set.
type Resolution struct {
	Profile *domain.UnifiedProfile
	Created bool
	// MergedIDs lists profiles absorbed into Profile during this resolution.
	MergedIDs []string
	// EventsLinked counts event rows re-pointed to Profile by the merge.
	EventsLinked int64
}

// Resolver owns fragment-to-profile resolution for all event sources.
type Resolver struct {
	profiles store.ProfileStore
	log      *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(profiles store.ProfileStore, log *zap.Logger) *Resolver {
	return &Resolver{profiles: profiles, log: log}
}

// Fragments builds a normalized fragment list from the optional identity
// hints a payload may carry. Emails are lowercased; empty hints are dropped.
func Fragments(email, customerID, phone, anonymousID string) []domain.Fragment {
	var out []domain.Fragment
	if v := strings.ToLower(strings.TrimSpace(email)); v != "" {
		out = append(out, domain.Fragment{Type: domain.FragmentEmail, Value: v})
	}
	if v := strings.TrimSpace(customerID); v != "" {
		out = append(out, domain.Fragment{Type: domain.FragmentCustomerID, Value: v})
	}
	if v := strings.TrimSpace(phone); v != "" {
		out = append(out, domain.Fragment{Type: domain.FragmentPhone, Value: v})
	}
	if v := strings.TrimSpace(anonymousID); v != "" {
		out = append(out, domain.Fragment{Type: domain.FragmentAnonymousID, Value: v})
	}
	return out
}

// Resolve maps a fragment set to exactly one live profile, creating one when
// every fragment is unknown and merging when the fragments span several.
// Fragments are checked in the fixed priority order, so resolution is
// deterministic for any presented set.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, fragments []domain.Fragment, source domain.EventSource, now time.Time) (*Resolution, error) {
	ordered := orderFragments(fragments)
	if len(ordered) == 0 {
		return nil, domain.Validationf("no identity fragments presented")
	}

	owners, err := r.lookupOwners(ctx, tenantID, ordered)
	if err != nil {
		return nil, err
	}

	switch len(owners) {
	case 0:
		return r.createProfile(ctx, tenantID, ordered, source, now)
	case 1:
		return r.attachToProfile(ctx, owners[0], ordered, source, now)
	default:
		return r.mergeProfiles(ctx, owners, ordered, source, now)
	}
}

// orderFragments sorts fragments into priority order and drops duplicates.
func orderFragments(fragments []domain.Fragment) []domain.Fragment {
	seen := make(map[domain.Fragment]struct{}, len(fragments))
	var ordered []domain.Fragment
	for _, typ := range domain.FragmentPriority {
		for _, f := range fragments {
			if f.Type != typ || f.Value == "" {
				continue
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			ordered = append(ordered, f)
		}
	}
	return ordered
}

// lookupOwners loads the distinct live profiles owning any of the fragments,
// in fragment priority order.
func (r *Resolver) lookupOwners(ctx context.Context, tenantID string, fragments []domain.Fragment) ([]*domain.UnifiedProfile, error) {
	var owners []*domain.UnifiedProfile
	seen := map[string]struct{}{}

	for _, f := range fragments {
		link, err := r.profiles.LookupLink(ctx, tenantID, f)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up fragment: %w", err)
		}

		p, err := r.loadLive(ctx, tenantID, link.ProfileID)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		owners = append(owners, p)
	}
	return owners, nil
}

// loadLive loads a profile and follows merge pointers to the surviving one.
// Links are re-pointed inside the merge transaction, so a chain longer than
// a couple of hops indicates corruption; the walk is bounded to be safe.
func (r *Resolver) loadLive(ctx context.Context, tenantID, profileID string) (*domain.UnifiedProfile, error) {
	for hop := 0; hop < 5; hop++ {
		p, err := r.profiles.GetProfile(ctx, tenantID, profileID)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", profileID, err)
		}
		if !p.Merged() {
			return p, nil
		}
		profileID = p.MergedInto
	}
	return nil, fmt.Errorf("merge chain too deep at profile %s", profileID)
}

func (r *Resolver) createProfile(ctx context.Context, tenantID string, fragments []domain.Fragment, source domain.EventSource, now time.Time) (*Resolution, error) {
	p := &domain.UnifiedProfile{
		ID:           ulid.Make().String(),
		TenantID:     tenantID,
		Emails:       []string{},
		CustomerIDs:  []string{},
		AnonymousIDs: []string{},
		Traits:       domain.Properties{},
		Computed:     domain.NewComputedTraits(),
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}
	applyFragments(p, fragments)

	if err := r.profiles.CreateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	if err := r.linkFragments(ctx, tenantID, p.ID, fragments, source, now); err != nil {
		return nil, err
	}

	r.log.Debug("profile created",
		zap.String("tenant_id", tenantID),
		zap.String("profile_id", p.ID),
		zap.Int("fragments", len(fragments)))

	return &Resolution{Profile: p, Created: true}, nil
}

func (r *Resolver) attachToProfile(ctx context.Context, p *domain.UnifiedProfile, fragments []domain.Fragment, source domain.EventSource, now time.Time) (*Resolution, error) {
	if err := r.linkFragments(ctx, p.TenantID, p.ID, fragments, source, now); err != nil {
		return nil, err
	}

	if applyFragments(p, fragments) {
		if now.After(p.LastSeenAt) {
			p.LastSeenAt = now
		}
		if err := r.profiles.UpdateProfile(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}
	} else if err := r.profiles.TouchLastSeen(ctx, p.TenantID, p.ID, now); err != nil {
		return nil, fmt.Errorf("failed to touch profile: %w", err)
	}

	return &Resolution{Profile: p}, nil
}

func (r *Resolver) mergeProfiles(ctx context.Context, owners []*domain.UnifiedProfile, fragments []domain.Fragment, source domain.EventSource, now time.Time) (*Resolution, error) {
	primary := ChoosePrimary(owners)

	var losers []*domain.UnifiedProfile
	var loserIDs []string
	for _, o := range owners {
		if o.ID == primary.ID {
			continue
		}
		losers = append(losers, o)
		loserIDs = append(loserIDs, o.ID)
	}

	merged := Combine(primary, losers, now)
	applyFragments(merged, fragments)
	if now.After(merged.LastSeenAt) {
		merged.LastSeenAt = now
	}

	eventsMoved, err := r.profiles.MergeProfiles(ctx, merged, loserIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to merge profiles: %w", err)
	}
	if err := r.linkFragments(ctx, merged.TenantID, merged.ID, fragments, source, now); err != nil {
		return nil, err
	}

	r.log.Info("profiles merged",
		zap.String("tenant_id", merged.TenantID),
		zap.String("profile_id", merged.ID),
		zap.Strings("merged_ids", loserIDs),
		zap.Int64("events_moved", eventsMoved))

	return &Resolution{Profile: merged, MergedIDs: loserIDs, EventsLinked: eventsMoved}, nil
}

// linkFragments claims every presented fragment for the profile. Already
// claimed fragments are left alone; the merge path has re-pointed them.
func (r *Resolver) linkFragments(ctx context.Context, tenantID, profileID string, fragments []domain.Fragment, source domain.EventSource, now time.Time) error {
	for _, f := range fragments {
		err := r.profiles.UpsertLink(ctx, &domain.IdentityLink{
			TenantID:   tenantID,
			Type:       f.Type,
			Value:      f.Value,
			ProfileID:  profileID,
			Source:     source,
			Confidence: 1.0,
			CreatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("failed to link fragment: %w", err)
		}
	}
	return nil
}

// applyFragments folds fragment values into the profile's sets and reports
// whether anything changed.
func applyFragments(p *domain.UnifiedProfile, fragments []domain.Fragment) bool {
	changed := false
	for _, f := range fragments {
		switch f.Type {
		case domain.FragmentEmail:
			if p.PrimaryEmail == "" {
				p.PrimaryEmail = f.Value
				changed = true
			}
			if appendUnique(&p.Emails, f.Value) {
				changed = true
			}
		case domain.FragmentCustomerID:
			if appendUnique(&p.CustomerIDs, f.Value) {
				changed = true
			}
		case domain.FragmentPhone:
			if p.Phone == "" {
				p.Phone = f.Value
				changed = true
			}
		case domain.FragmentAnonymousID:
			if appendUnique(&p.AnonymousIDs, f.Value) {
				changed = true
			}
		}
	}
	return changed
}

func appendUnique(set *[]string, value string) bool {
	for _, v := range *set {
		if v == value {
			return false
		}
	}
	*set = append(*set, value)
	return true
}

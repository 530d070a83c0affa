package domain

import "time"

// UnifiedProfile is one real-world person/visitor within a tenant. A profile
// is the unique owner of every identity fragment it holds; ownership is
// enforced by the identity link uniqueness constraint, not by this struct.
type UnifiedProfile struct {
	ID           string
	TenantID     string
	PrimaryEmail string
	Emails       []string
	Phone        string
	CustomerIDs  []string
	AnonymousIDs []string
	Traits       Properties
	Computed     ComputedTraits
	FirstSeenAt  time.Time
	LastSeenAt   time.Time

	// MergedInto is set when this profile lost a merge. A merged profile is
	// never returned by resolution; its links and events were re-pointed to
	// the winner in the same transaction that set this field.
	MergedInto string
}

// Merged reports whether this profile has been absorbed into another.
func (p *UnifiedProfile) Merged() bool {
	return p.MergedInto != ""
}

// HasEmail reports whether any email fragment is known for the profile.
func (p *UnifiedProfile) HasEmail() bool {
	return p.PrimaryEmail != "" || len(p.Emails) > 0
}

// HasCustomerID reports whether any external customer id is known.
func (p *UnifiedProfile) HasCustomerID() bool {
	return len(p.CustomerIDs) > 0
}

package domain

import "time"

// FragmentType classifies a piece of identifying data.
type FragmentType string

const (
	FragmentEmail       FragmentType = "email"
	FragmentPhone       FragmentType = "phone"
	FragmentCustomerID  FragmentType = "customer_id"
	FragmentAnonymousID FragmentType = "anonymous_id"
)

// FragmentPriority is the fixed order in which presented fragments are
// checked during resolution. The first known fragment wins ownership.
var FragmentPriority = []FragmentType{
	FragmentEmail,
	FragmentCustomerID,
	FragmentPhone,
	FragmentAnonymousID,
}

// Fragment is a single identity fragment value.
type Fragment struct {
	Type  FragmentType
	Value string
}

// IdentityLink binds one fragment to exactly one profile.
// (TenantID, Type, Value) is globally unique; this is what prevents two
// profiles from claiming the same person.
type IdentityLink struct {
	TenantID   string
	Type       FragmentType
	Value      string
	ProfileID  string
	Source     EventSource
	Confidence float64
	CreatedAt  time.Time
}

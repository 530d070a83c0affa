package domain

import "time"

// DestinationKind selects the outbound wire format.
type DestinationKind string

const (
	// DestinationMarketing receives prefixed profile property upserts and
	// named events (marketing-automation style API).
	DestinationMarketing DestinationKind = "marketing"
	// DestinationAds receives hashed-PII user match blocks plus custom
	// event/value data in fixed batches (ads-conversions style API).
	DestinationAds DestinationKind = "ads"
)

// Destination is an external system that receives synced profile and event
// data. Credentials may be empty, in which case the tenant's defaults apply.
type Destination struct {
	ID          string
	TenantID    string
	Kind        DestinationKind
	Name        string
	Enabled     bool
	Credentials Properties
	LastError   string
	UpdatedAt   time.Time
}

// Tenant holds per-tenant settings the pipeline needs: the webhook shared
// secret and destination credential defaults.
type Tenant struct {
	ID                 string
	Name               string
	WebhookSecret      string
	DefaultCredentials Properties
	CreatedAt          time.Time
}

// CapabilityCollect authorizes event ingestion for an API key.
const CapabilityCollect = "collect"

// APIKey authenticates an external caller for a tenant.
type APIKey struct {
	Key          string
	TenantID     string
	Capabilities []string
	RevokedAt    *time.Time
	CreatedAt    time.Time
}

// Allows reports whether the key is live and grants the capability.
func (k *APIKey) Allows(capability string) bool {
	if k.RevokedAt != nil {
		return false
	}
	for _, c := range k.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

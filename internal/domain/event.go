package domain

import "time"

// EventType is the canonical behavioral event vocabulary. External event
// names are normalized into this set at ingestion; anything unknown
// becomes EventCustom.
type EventType string

const (
	EventPageView       EventType = "page_view"
	EventProductView    EventType = "product_view"
	EventCollectionView EventType = "collection_view"
	EventSearch         EventType = "search"
	EventAddToCart      EventType = "add_to_cart"
	EventRemoveFromCart EventType = "remove_from_cart"
	EventBeginCheckout  EventType = "begin_checkout"
	EventPurchase       EventType = "purchase"
	EventCustom         EventType = "custom"
)

// EventStatus advances monotonically: received -> processed -> synced,
// or failed.
type EventStatus string

const (
	EventStatusReceived  EventStatus = "received"
	EventStatusProcessed EventStatus = "processed"
	EventStatusSynced    EventStatus = "synced"
	EventStatusFailed    EventStatus = "failed"
)

// EventSource identifies which collaborator produced the event.
type EventSource string

const (
	SourceJS      EventSource = "js"
	SourceServer  EventSource = "server"
	SourceWebhook EventSource = "webhook"
	SourceTest    EventSource = "test"
)

// Properties is a free-form key/value bag attached to events and profiles.
// Size (10 KB serialized) and nesting depth (10 levels) are enforced at the
// ingestion boundary, never assumed here.
type Properties map[string]any

// EventContext carries transport metadata captured alongside an event.
type EventContext struct {
	PageURL   string `json:"page_url,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Event is one observed behavioral action, persisted at ingestion.
// (TenantID, DedupeKey) is unique; redelivery of the same logical event is a
// storage no-op.
type Event struct {
	ID          string
	TenantID    string
	ProfileID   string // empty until identity resolution attaches an owner
	Type        EventType
	Name        string
	Properties  Properties
	Context     EventContext
	AnonymousID string
	SessionID   string
	Source      EventSource
	Status      EventStatus
	DedupeKey   string
	EventTime   time.Time
	ProcessedAt time.Time
}

// RawEvent is an event payload before ingestion: what the collect endpoint
// binds, what the webhook mapper produces, and what crosses the queue to the
// worker. Email/Phone/CustomerID are optional identity hints that server and
// webhook sources may carry inline.
type RawEvent struct {
	TenantID      string       `json:"tenant_id"`
	Name          string       `json:"event"`
	Properties    Properties   `json:"properties,omitempty"`
	Context       EventContext `json:"context,omitempty"`
	AnonymousID   string       `json:"anonymous_id,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	Email         string       `json:"email,omitempty"`
	Phone         string       `json:"phone,omitempty"`
	CustomerID    string       `json:"customer_id,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Source        EventSource  `json:"source"`
	EventTime     time.Time    `json:"event_time"`
}

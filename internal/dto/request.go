package dto

// EventContext carries transport metadata sent alongside a collected event.
type EventContext struct {
	PageURL   string `json:"page_url"`
	Referrer  string `json:"referrer"`
	UserAgent string `json:"user_agent"`
}

// CollectEventRequest is the browser pixel payload for POST /v1/events.
type CollectEventRequest struct {
	Event       string                 `json:"event" binding:"required"`
	Properties  map[string]interface{} `json:"properties"`
	Context     *EventContext          `json:"context"`
	AnonymousID string                 `json:"anonymous_id"`
	SessionID   string                 `json:"session_id"`
	Timestamp   int64                  `json:"timestamp"`
}

// TrackEventRequest is the server-to-server payload for POST /v1/track. It
// may carry identity hints inline; anonymous_id is optional because the
// caller's IP and user agent can stand in for it.
type TrackEventRequest struct {
	Event         string                 `json:"event" binding:"required"`
	Properties    map[string]interface{} `json:"properties"`
	AnonymousID   string                 `json:"anonymous_id"`
	SessionID     string                 `json:"session_id"`
	Email         string                 `json:"email"`
	Phone         string                 `json:"phone"`
	CustomerID    string                 `json:"customer_id"`
	TransactionID string                 `json:"transaction_id"`
	Timestamp     int64                  `json:"timestamp"`
}

// IdentifyRequest binds identity fragments to one unified profile.
type IdentifyRequest struct {
	AnonymousID string                 `json:"anonymous_id"`
	CustomerID  string                 `json:"customer_id"`
	Email       string                 `json:"email"`
	Phone       string                 `json:"phone"`
	Traits      map[string]interface{} `json:"traits"`
}

// GetMetricsRequest is a metrics query over archived events.
type GetMetricsRequest struct {
	EventType string `form:"event_type"`
	From      int64  `form:"from" binding:"required"`
	To        int64  `form:"to" binding:"required"`
	GroupBy   string `form:"group_by"`
}

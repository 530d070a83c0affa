package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CollectEventResponse acknowledges an ingested event.
type CollectEventResponse struct {
	EventID   string `json:"event_id"`
	ProfileID string `json:"profile_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// IdentifyResponse reports what an identify call changed.
type IdentifyResponse struct {
	UnifiedUserID   string `json:"unified_user_id"`
	IsNewUser       bool   `json:"is_new_user"`
	EventsLinked    int64  `json:"events_linked"`
	SyncJobsCreated int    `json:"sync_jobs_created"`
}

// WebhookResponse acknowledges a buffered webhook delivery.
type WebhookResponse struct {
	Status string `json:"status"`
}

// MetricsGroupData represents aggregated metrics for a specific group
type MetricsGroupData struct {
	GroupValue string `json:"group_value"`
	TotalCount uint64 `json:"total_count"`
}

// GetMetricsResponse represents the metrics query response
type GetMetricsResponse struct {
	EventType   string             `json:"event_type,omitempty"`
	From        int64              `json:"from"`
	To          int64              `json:"to"`
	TotalCount  uint64             `json:"total_count"`
	UniqueCount uint64             `json:"unique_count"`
	GroupBy     string             `json:"group_by,omitempty"`
	Groups      []MetricsGroupData `json:"groups,omitempty"`
}

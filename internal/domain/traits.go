package domain

import "time"

// DropOffStage is the furthest point a profile has reached in the
// browse -> cart -> checkout -> purchase funnel. Stages only advance;
// completion is terminal.
type DropOffStage string

const (
	StageVisitor           DropOffStage = "visitor"
	StageBrowseAbandoned   DropOffStage = "browse_abandoned"
	StageCartAbandoned     DropOffStage = "cart_abandoned"
	StageCheckoutAbandoned DropOffStage = "checkout_abandoned"
	StageCompleted         DropOffStage = "completed"
)

var stageRank = map[DropOffStage]int{
	StageVisitor:           0,
	StageBrowseAbandoned:   1,
	StageCartAbandoned:     2,
	StageCheckoutAbandoned: 3,
	StageCompleted:         4,
}

// Rank returns the stage's position in the funnel order. Unknown stages
// rank as visitor.
func (s DropOffStage) Rank() int {
	return stageRank[s]
}

// ComputedTraits is the derived, overwritten-in-place state on a profile.
// The exported score fields are the contract; the lower block carries the
// running counters the scoring engine needs to stay a pure function of
// (old state, event).
type ComputedTraits struct {
	IntentScore    float64      `json:"intent_score"`
	FrequencyScore int          `json:"frequency_score"`
	DepthScore     int          `json:"depth_score"`
	RecencyDays    int          `json:"recency_days"`
	DropOffStage   DropOffStage `json:"drop_off_stage"`
	TopCategory    string       `json:"top_category,omitempty"`
	LifetimeValue  float64      `json:"lifetime_value"`
	OrdersCount    int          `json:"orders_count"`
	LastEventType  EventType    `json:"last_event_type,omitempty"`
	LastEventName  string       `json:"last_event_name,omitempty"`
	LastActivityAt time.Time    `json:"last_activity_at"`

	// Running counters.
	ProductsViewed     int            `json:"products_viewed"`
	CategoriesViewed   int            `json:"categories_viewed"`
	SessionCount30d    int            `json:"session_count_30d"`
	LastSessionID      string         `json:"last_session_id,omitempty"`
	SessionWindowStart time.Time      `json:"session_window_start,omitzero"`
	CategoryCounts     map[string]int `json:"category_counts,omitempty"`
	CategoryOrder      []string       `json:"category_order,omitempty"`
}

// NewComputedTraits returns the zero state for a fresh profile.
func NewComputedTraits() ComputedTraits {
	return ComputedTraits{DropOffStage: StageVisitor}
}

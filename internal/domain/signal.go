package domain

import "time"

// SignalType identifies a rule in the fixed predictive catalog.
type SignalType string

const (
	SignalCartHighIntent   SignalType = "cart_with_high_intent"
	SignalUrgentCheckout   SignalType = "urgent_checkout_abandonment"
	SignalBrowseWarming    SignalType = "browse_warming"
	SignalChurnRisk        SignalType = "churn_risk"
	SignalCategoryInterest SignalType = "category_interest"
	SignalAboutToPurchase  SignalType = "about_to_purchase"
)

// PredictiveSignal is a time-boxed, confidence-rated inference about a
// profile. At most one live signal exists per (tenant, profile, type);
// ShouldTriggerFlow is true only while FlowTriggeredAt is unset for this
// signal instance.
type PredictiveSignal struct {
	TenantID          string
	ProfileID         string
	Type              SignalType
	Confidence        int
	Payload           Properties
	ShouldTriggerFlow bool
	FlowTriggeredAt   *time.Time
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// Expired reports whether the signal's window has passed.
func (s *PredictiveSignal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Package predictive evaluates the fixed signal catalog over active profiles
// and maintains the resulting time-boxed signals.
package predictive

import (
	"time"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// Rule is one entry in the signal catalog. Match reads the profile's computed
// traits only; recency is recomputed by the caller before evaluation so a
// rule never sees a stale day count.
type Rule struct {
	Type         domain.SignalType
	Confidence   int
	TTL          time.Duration
	TriggersFlow bool
	Match        func(c domain.ComputedTraits) bool
	Payload      func(c domain.ComputedTraits) domain.Properties
}

// Catalog is the full fixed rule set, evaluated in order. Several rules can
// hold for one profile at once; each maintains its own signal.
var Catalog = []Rule{
	{
		Type:         domain.SignalCartHighIntent,
		Confidence:   85,
		TTL:          24 * time.Hour,
		TriggersFlow: true,
		Match: func(c domain.ComputedTraits) bool {
			return c.DropOffStage == domain.StageCartAbandoned && c.IntentScore >= 60
		},
		Payload: func(c domain.ComputedTraits) domain.Properties {
			return domain.Properties{
				"intent_score":   c.IntentScore,
				"drop_off_stage": string(c.DropOffStage),
			}
		},
	},
	{
		Type:         domain.SignalUrgentCheckout,
		Confidence:   92,
		TTL:          6 * time.Hour,
		TriggersFlow: true,
		Match: func(c domain.ComputedTraits) bool {
			return c.DropOffStage == domain.StageCheckoutAbandoned && c.RecencyDays == 0
		},
		Payload: func(c domain.ComputedTraits) domain.Properties {
			return domain.Properties{
				"intent_score":   c.IntentScore,
				"last_event":     c.LastEventName,
				"drop_off_stage": string(c.DropOffStage),
			}
		},
	},
	{
		Type:         domain.SignalBrowseWarming,
		Confidence:   70,
		TTL:          48 * time.Hour,
		TriggersFlow: true,
		Match: func(c domain.ComputedTraits) bool {
			return c.DropOffStage == domain.StageBrowseAbandoned &&
				c.DepthScore >= 40 && c.IntentScore >= 30
		},
		Payload: func(c domain.ComputedTraits) domain.Properties {
			return domain.Properties{
				"depth_score":  c.DepthScore,
				"intent_score": c.IntentScore,
				"top_category": c.TopCategory,
			}
		},
	},
	{
		Type:         domain.SignalChurnRisk,
		Confidence:   65,
		TTL:          7 * 24 * time.Hour,
		TriggersFlow: true,
		Match: func(c domain.ComputedTraits) bool {
			return c.RecencyDays >= 21 && c.IntentScore < 20
		},
		Payload: func(c domain.ComputedTraits) domain.Properties {
			return domain.Properties{
				"recency_days":   c.RecencyDays,
				"lifetime_value": c.LifetimeValue,
				"orders_count":   c.OrdersCount,
			}
		},
	},
	{
		Type:       domain.SignalCategoryInterest,
		Confidence: 60,
		TTL:        72 * time.Hour,
		Match: func(c domain.ComputedTraits) bool {
			return c.TopCategory != "" && c.DepthScore >= 30
		},
		Payload: func(c domain.ComputedTraits) domain.Properties {
			return domain.Properties{
				"top_category": c.TopCategory,
				"depth_score":  c.DepthScore,
			}
		},
	},
	{
		Type:         domain.SignalAboutToPurchase,
		Confidence:   90,
		TTL:          12 * time.Hour,
		TriggersFlow: true,
		Match: func(c domain.ComputedTraits) bool {
			return c.IntentScore >= 80 &&
				c.DropOffStage.Rank() >= domain.StageCartAbandoned.Rank() &&
				c.DropOffStage != domain.StageCompleted
		},
		Payload: func(c domain.ComputedTraits) domain.Properties {
			return domain.Properties{
				"intent_score":   c.IntentScore,
				"drop_off_stage": string(c.DropOffStage),
			}
		},
	},
}

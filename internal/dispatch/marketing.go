package dispatch

import (
	"encoding/json"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// defaultPropertyPrefix namespaces synced profile properties so they never
// collide with fields the tenant maintains in the destination by hand.
const defaultPropertyPrefix = "est_"

// marketingBody builds the marketing-automation payload: profile upserts
// carry the prefixed computed traits, event tracks carry the named event.
func marketingBody(creds domain.Properties, job *domain.SyncJob, profile *domain.UnifiedProfile) ([]byte, error) {
	prefix, _ := creds["property_prefix"].(string)
	if prefix == "" {
		prefix = defaultPropertyPrefix
	}

	switch job.Type {
	case domain.JobProfileUpsert:
		return json.Marshal(map[string]any{
			"profiles": []map[string]any{{
				"email":       profile.PrimaryEmail,
				"external_id": profile.ID,
				"phone":       profile.Phone,
				"properties":  prefixedTraits(prefix, profile),
			}},
		})
	case domain.JobEventTrack:
		return json.Marshal(map[string]any{
			"events": []map[string]any{{
				"email":       profile.PrimaryEmail,
				"external_id": profile.ID,
				"name":        job.Payload["event"],
				"properties":  job.Payload["properties"],
				"time":        job.Payload["event_time"],
			}},
		})
	default:
		return nil, &domain.ConfigError{Reason: "unknown job type " + string(job.Type)}
	}
}

func prefixedTraits(prefix string, profile *domain.UnifiedProfile) map[string]any {
	c := profile.Computed
	props := map[string]any{
		prefix + "intent_score":    c.IntentScore,
		prefix + "frequency_score": c.FrequencyScore,
		prefix + "depth_score":     c.DepthScore,
		prefix + "recency_days":    c.RecencyDays,
		prefix + "drop_off_stage":  string(c.DropOffStage),
		prefix + "lifetime_value":  c.LifetimeValue,
		prefix + "orders_count":    c.OrdersCount,
	}
	if c.TopCategory != "" {
		props[prefix+"top_category"] = c.TopCategory
	}
	for k, v := range profile.Traits {
		props[prefix+k] = v
	}
	return props
}

package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// adsBody builds the ads-conversions payload. Ads platforms match users on
// hashed identifiers only, so raw PII never leaves this process: every
// identifier is lowercased, trimmed, and SHA-256 hashed.
func adsBody(creds domain.Properties, job *domain.SyncJob, profile *domain.UnifiedProfile) ([]byte, error) {
	match := map[string]any{
		"hashed_external_id": hashIdentifier(profile.ID),
	}
	if profile.PrimaryEmail != "" {
		match["hashed_email"] = hashIdentifier(profile.PrimaryEmail)
	}
	if profile.Phone != "" {
		match["hashed_phone"] = hashIdentifier(normalizePhone(profile.Phone))
	}

	entry := map[string]any{"user": match}
	switch job.Type {
	case domain.JobProfileUpsert:
		entry["audience_state"] = map[string]any{
			"intent_score":   profile.Computed.IntentScore,
			"drop_off_stage": string(profile.Computed.DropOffStage),
			"lifetime_value": profile.Computed.LifetimeValue,
		}
	case domain.JobEventTrack:
		entry["event_name"] = job.Payload["event"]
		entry["event_time"] = job.Payload["event_time"]
		if props, ok := job.Payload["properties"].(map[string]any); ok {
			if value := orderValue(props); value > 0 {
				entry["value"] = value
			}
		}
	default:
		return nil, &domain.ConfigError{Reason: "unknown job type " + string(job.Type)}
	}

	body := map[string]any{"data": []map[string]any{entry}}
	if accountID, ok := creds["account_id"].(string); ok && accountID != "" {
		body["account_id"] = accountID
	}
	return json.Marshal(body)
}

func hashIdentifier(v string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return hex.EncodeToString(h[:])
}

// normalizePhone strips everything but digits and a leading plus.
func normalizePhone(v string) string {
	var b strings.Builder
	for i, r := range v {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// orderValue extracts a monetary total. Webhook payloads carry totals as
// strings, so those parse too.
func orderValue(props map[string]any) float64 {
	for _, key := range []string{"total", "total_price", "value", "revenue"} {
		switch v := props[key].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// transactionKeys are the property names that carry a natural transaction
// identifier, checked in priority order.
var transactionKeys = []string{"checkout_id", "cart_token", "order_id"}

// dedupeBucket is the tumbling window used for events without a natural
// transaction id: the same (tenant, name, visitor) within one bucket is one
// logical event.
const dedupeBucket = 5 * time.Minute

// dedupeKey derives the idempotency key for a raw event. Transaction-shaped
// events key on their transaction id alone, so webhook redelivery and a
// client-side duplicate of the same checkout collapse to one row. Everything
// else needs an anonymous id to bucket on; an event with neither is too
// ambiguous to dedupe and is rejected.
func dedupeKey(raw domain.RawEvent, name string) (string, error) {
	if txn := transactionID(raw); txn != "" {
		return "txn:" + txn, nil
	}
	if raw.AnonymousID == "" {
		return "", domain.Validationf("event %q carries no transaction id and no anonymous id", name)
	}

	bucket := raw.EventTime.UTC().Truncate(dedupeBucket).Unix()
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d", raw.TenantID, name, raw.AnonymousID, bucket))
	return hex.EncodeToString(h[:16]), nil
}

// transactionID extracts the natural transaction id, if any.
func transactionID(raw domain.RawEvent) string {
	if raw.TransactionID != "" {
		return raw.TransactionID
	}
	for _, key := range transactionKeys {
		switch v := raw.Properties[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// Fingerprint derives a stable anonymous id for server-side events that
// arrive without one, from what the server does see. Weaker than a real
// device id but deterministic, so repeat calls land on the same profile.
func Fingerprint(tenantID, ip, userAgent string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", tenantID, ip, userAgent))
	return "fp_" + hex.EncodeToString(h[:12])
}

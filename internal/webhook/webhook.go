// Package webhook turns commerce-platform webhook deliveries into raw events
// and verifies their authenticity.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// Delivery header names. The platform signs the raw body with the tenant's
// shared secret.
const (
	TopicHeader     = "X-Commerce-Topic"
	SignatureHeader = "X-Commerce-Hmac-Sha256"
)

// VerifySignature checks the base64 HMAC-SHA256 of the raw body against the
// tenant's shared secret. An empty secret disables verification; tenants
// onboard before their secret is configured.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// topicEvents maps webhook topics onto the canonical event vocabulary.
var topicEvents = map[string]domain.EventType{
	"orders/create":    domain.EventPurchase,
	"orders/paid":      domain.EventPurchase,
	"checkouts/create": domain.EventBeginCheckout,
	"checkouts/update": domain.EventBeginCheckout,
	"carts/create":     domain.EventAddToCart,
	"carts/update":     domain.EventAddToCart,
	"customers/create": domain.EventCustom,
	"customers/update": domain.EventCustom,
}

// MapDelivery translates one webhook delivery into a raw event ready for
// ingestion. Unknown topics are a validation rejection so the platform stops
// redelivering them.
func MapDelivery(tenantID, topic string, body []byte, receivedAt time.Time) (domain.RawEvent, error) {
	typ, ok := topicEvents[topic]
	if !ok {
		return domain.RawEvent{}, domain.Validationf("unsupported webhook topic %q", topic)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.RawEvent{}, domain.Validationf("webhook body is not valid JSON: %v", err)
	}

	raw := domain.RawEvent{
		TenantID:      tenantID,
		Name:          string(typ),
		Properties:    domain.Properties{},
		Email:         stringAt(payload, "email", "customer.email"),
		Phone:         stringAt(payload, "phone", "customer.phone"),
		CustomerID:    idAt(payload, "customer.id"),
		TransactionID: transactionFor(typ, payload),
		Source:        domain.SourceWebhook,
		EventTime:     eventTime(payload, receivedAt),
	}
	if typ == domain.EventCustom {
		raw.Name = "customer_update"
		raw.CustomerID = idAt(payload, "id")
	}

	switch typ {
	case domain.EventPurchase:
		if total := stringAt(payload, "total_price"); total != "" {
			raw.Properties["total"] = total
		}
		if currency := stringAt(payload, "currency"); currency != "" {
			raw.Properties["currency"] = currency
		}
		raw.Properties["order_id"] = raw.TransactionID
	case domain.EventBeginCheckout:
		raw.Properties["checkout_id"] = raw.TransactionID
	case domain.EventAddToCart:
		raw.Properties["cart_token"] = raw.TransactionID
	}

	return raw, nil
}

// transactionFor picks the natural transaction id for the topic's entity.
func transactionFor(typ domain.EventType, payload map[string]any) string {
	switch typ {
	case domain.EventPurchase:
		return idAt(payload, "id", "order_number")
	case domain.EventBeginCheckout:
		return firstNonEmpty(stringAt(payload, "token"), idAt(payload, "id"))
	case domain.EventAddToCart:
		return firstNonEmpty(stringAt(payload, "token"), idAt(payload, "id"))
	default:
		return ""
	}
}

func eventTime(payload map[string]any, fallback time.Time) time.Time {
	for _, key := range []string{"created_at", "updated_at"} {
		if v := stringAt(payload, key); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t.UTC()
			}
		}
	}
	return fallback
}

// stringAt returns the first non-empty string found at the dotted paths.
func stringAt(payload map[string]any, paths ...string) string {
	for _, path := range paths {
		if v, ok := valueAt(payload, path).(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// idAt returns the first value at the dotted paths rendered as an id string.
// Platform ids arrive as JSON numbers.
func idAt(payload map[string]any, paths ...string) string {
	for _, path := range paths {
		switch v := valueAt(payload, path).(type) {
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

func valueAt(payload map[string]any, path string) any {
	current := any(payload)
	for {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		dot := -1
		for i, r := range path {
			if r == '.' {
				dot = i
				break
			}
		}
		if dot < 0 {
			return m[path]
		}
		current = m[path[:dot]]
		path = path[dot+1:]
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

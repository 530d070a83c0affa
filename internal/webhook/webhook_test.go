package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":123}`)

	assert.True(t, VerifySignature("secret", body, sign("secret", body)))
	assert.False(t, VerifySignature("secret", body, sign("wrong", body)))
	assert.False(t, VerifySignature("secret", []byte(`{"id":124}`), sign("secret", body)))
	assert.True(t, VerifySignature("", body, ""), "no secret means verification is off")
}

func TestMapDeliveryOrderCreate(t *testing.T) {
	body := []byte(`{
		"id": 5478391,
		"email": "jane@example.com",
		"total_price": "254.98",
		"currency": "USD",
		"created_at": "2026-08-28T10:15:00Z",
		"customer": {"id": 9210455, "phone": "+15550109999"}
	}`)

	raw, err := MapDelivery("tn_1", "orders/create", body, time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, "tn_1", raw.TenantID)
	assert.Equal(t, "purchase", raw.Name)
	assert.Equal(t, domain.SourceWebhook, raw.Source)
	assert.Equal(t, "jane@example.com", raw.Email)
	assert.Equal(t, "+15550109999", raw.Phone)
	assert.Equal(t, "9210455", raw.CustomerID)
	assert.Equal(t, "5478391", raw.TransactionID)
	assert.Equal(t, "254.98", raw.Properties["total"])
	assert.Equal(t, time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC), raw.EventTime)
}

func TestMapDeliveryCheckout(t *testing.T) {
	body := []byte(`{"token": "chk_abc", "email": "jane@example.com"}`)

	raw, err := MapDelivery("tn_1", "checkouts/update", body, time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, "begin_checkout", raw.Name)
	assert.Equal(t, "chk_abc", raw.TransactionID)
	assert.Equal(t, "chk_abc", raw.Properties["checkout_id"])
}

func TestMapDeliveryCartUpdate(t *testing.T) {
	body := []byte(`{"token": "cart_xyz"}`)

	raw, err := MapDelivery("tn_1", "carts/update", body, time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, "add_to_cart", raw.Name)
	assert.Equal(t, "cart_xyz", raw.TransactionID)
}

func TestMapDeliveryCustomerUpdate(t *testing.T) {
	body := []byte(`{"id": 42, "email": "jane@example.com"}`)

	raw, err := MapDelivery("tn_1", "customers/update", body, time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, "customer_update", raw.Name)
	assert.Equal(t, "42", raw.CustomerID)
	assert.Empty(t, raw.TransactionID)
}

func TestMapDeliveryRejectsUnknownTopic(t *testing.T) {
	_, err := MapDelivery("tn_1", "products/delete", []byte(`{}`), time.Now().UTC())
	assert.True(t, domain.IsValidation(err))

	_, err = MapDelivery("tn_1", "orders/create", []byte(`not json`), time.Now().UTC())
	assert.True(t, domain.IsValidation(err))
}

func TestMapDeliveryFallsBackToReceiptTime(t *testing.T) {
	received := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	raw, err := MapDelivery("tn_1", "carts/create", []byte(`{"token":"c1"}`), received)
	assert.NoError(t, err)
	assert.Equal(t, received, raw.EventTime)
}

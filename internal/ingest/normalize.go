package ingest

import (
	"strings"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// eventAliases maps external spellings onto the canonical vocabulary.
// Commerce platforms and older SDK versions disagree on naming; everything
// not listed here ingests as a custom event.
var eventAliases = map[string]domain.EventType{
	"page_view":         domain.EventPageView,
	"page_viewed":       domain.EventPageView,
	"pageview":          domain.EventPageView,
	"product_view":      domain.EventProductView,
	"product_viewed":    domain.EventProductView,
	"view_item":         domain.EventProductView,
	"collection_view":   domain.EventCollectionView,
	"view_item_list":    domain.EventCollectionView,
	"search":            domain.EventSearch,
	"products_searched": domain.EventSearch,
	"add_to_cart":       domain.EventAddToCart,
	"product_added":     domain.EventAddToCart,
	"remove_from_cart":  domain.EventRemoveFromCart,
	"product_removed":   domain.EventRemoveFromCart,
	"begin_checkout":    domain.EventBeginCheckout,
	"checkout_started":  domain.EventBeginCheckout,
	"purchase":          domain.EventPurchase,
	"order_completed":   domain.EventPurchase,
}

// Normalize canonicalizes an external event name. The returned name is the
// trimmed original, kept for destinations that sync named events.
func Normalize(name string) (domain.EventType, string) {
	trimmed := strings.TrimSpace(name)
	key := strings.ReplaceAll(strings.ToLower(trimmed), " ", "_")
	if typ, ok := eventAliases[key]; ok {
		return typ, trimmed
	}
	return domain.EventCustom, trimmed
}

// Package scoring maintains the per-profile derived traits. Update is a pure
// function of (old state, event); the caller persists the result, which keeps
// the read-modify-write race surface in one place (the store).
package scoring

import (
	"math"
	"strconv"
	"time"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// decayRatePerDay is the canonical multiplicative intent decay applied to
// the existing score before a new event weight is added.
const decayRatePerDay = 0.95

// sessionWindow is the trailing window the frequency score is computed over.
const sessionWindow = 30 * 24 * time.Hour

// intentWeights carries the fixed per-event-type intent contribution.
// Purchase is absent on purpose: it short-circuits decay and sets the score
// to 100 directly.
var intentWeights = map[domain.EventType]float64{
	domain.EventPageView:       1,
	domain.EventCollectionView: 2,
	domain.EventSearch:         1,
	domain.EventProductView:    5,
	domain.EventAddToCart:      15,
	domain.EventBeginCheckout:  25,
	domain.EventRemoveFromCart: -5,
}

// stageFor maps an event type to the funnel stage it proves the profile
// reached. Events outside the funnel map to no stage change.
var stageFor = map[domain.EventType]domain.DropOffStage{
	domain.EventProductView:   domain.StageBrowseAbandoned,
	domain.EventAddToCart:     domain.StageCartAbandoned,
	domain.EventBeginCheckout: domain.StageCheckoutAbandoned,
	domain.EventPurchase:      domain.StageCompleted,
}

// categoryKeys are checked in priority order when extracting the category a
// property bag refers to.
var categoryKeys = []string{"product_type", "category", "collection_handle"}

// orderTotalKeys are checked in priority order when extracting a purchase's
// monetary total.
var orderTotalKeys = []string{"total", "total_price", "value", "revenue"}

// Input is the slice of an event the scoring engine consumes.
type Input struct {
	Type       domain.EventType
	Name       string
	SessionID  string
	Properties domain.Properties
	EventTime  time.Time
}

// Update derives the next computed-trait state from the previous state and
// one event. It never mutates old.
func Update(old domain.ComputedTraits, ev Input, now time.Time) domain.ComputedTraits {
	next := old
	next.CategoryCounts = copyCounts(old.CategoryCounts)
	next.CategoryOrder = append([]string(nil), old.CategoryOrder...)

	next.IntentScore = nextIntent(old, ev)
	updateSessions(&next, ev)
	updateBrowsing(&next, ev)
	updateFunnel(&next, ev)

	next.DepthScore = clampInt(next.ProductsViewed*5+next.CategoriesViewed*10, 0, 100)
	next.FrequencyScore = frequencyFor(next.SessionCount30d)
	next.TopCategory = topCategory(next.CategoryCounts, next.CategoryOrder)

	next.LastEventType = ev.Type
	next.LastEventName = ev.Name
	if ev.EventTime.After(next.LastActivityAt) {
		next.LastActivityAt = ev.EventTime
	}
	next.RecencyDays = RecencyDays(next.LastActivityAt, now)

	return next
}

// Refresh advances the time-derived traits without crediting an event
// weight: intent decays over the elapsed time, last activity moves forward,
// and recency is recomputed. Used when a delivery proves the person is
// active but its event is already counted.
func Refresh(old domain.ComputedTraits, eventTime, now time.Time) domain.ComputedTraits {
	next := old
	if !old.LastActivityAt.IsZero() && eventTime.After(old.LastActivityAt) {
		elapsedDays := eventTime.Sub(old.LastActivityAt).Hours() / 24
		next.IntentScore = clampFloat(old.IntentScore*math.Pow(decayRatePerDay, elapsedDays), 0, 100)
		next.LastActivityAt = eventTime
	}
	next.RecencyDays = RecencyDays(next.LastActivityAt, now)
	return next
}

// RecencyDays returns whole days elapsed since the last activity, never
// negative.
func RecencyDays(lastActivity, now time.Time) int {
	if lastActivity.IsZero() || !now.After(lastActivity) {
		return 0
	}
	return int(now.Sub(lastActivity).Hours() / 24)
}

func nextIntent(old domain.ComputedTraits, ev Input) float64 {
	if ev.Type == domain.EventPurchase {
		// Strongest possible signal: no decay, no addition.
		return 100
	}

	decayed := old.IntentScore
	if !old.LastActivityAt.IsZero() && ev.EventTime.After(old.LastActivityAt) {
		elapsedDays := ev.EventTime.Sub(old.LastActivityAt).Hours() / 24
		decayed = old.IntentScore * math.Pow(decayRatePerDay, elapsedDays)
	}

	weight, ok := intentWeights[ev.Type]
	if !ok {
		weight = 1
	}

	return clampFloat(decayed+weight, 0, 100)
}

func updateSessions(next *domain.ComputedTraits, ev Input) {
	if next.SessionWindowStart.IsZero() || ev.EventTime.Sub(next.SessionWindowStart) > sessionWindow {
		// Window rolled over; the current session is the only one counted.
		next.SessionWindowStart = ev.EventTime
		next.SessionCount30d = 0
		next.LastSessionID = ""
	}

	if ev.SessionID != "" && ev.SessionID != next.LastSessionID {
		next.SessionCount30d++
		next.LastSessionID = ev.SessionID
	} else if next.SessionCount30d == 0 {
		next.SessionCount30d = 1
	}
}

func updateBrowsing(next *domain.ComputedTraits, ev Input) {
	if ev.Type == domain.EventProductView {
		next.ProductsViewed++
	}

	category := extractString(ev.Properties, categoryKeys)
	if category == "" {
		return
	}
	if next.CategoryCounts == nil {
		next.CategoryCounts = make(map[string]int)
	}
	if _, seen := next.CategoryCounts[category]; !seen {
		next.CategoriesViewed++
		next.CategoryOrder = append(next.CategoryOrder, category)
	}
	next.CategoryCounts[category]++
}

func updateFunnel(next *domain.ComputedTraits, ev Input) {
	if stage, ok := stageFor[ev.Type]; ok && stage.Rank() > next.DropOffStage.Rank() {
		next.DropOffStage = stage
	}
	if next.DropOffStage == "" {
		next.DropOffStage = domain.StageVisitor
	}

	if ev.Type == domain.EventPurchase {
		if total := extractNumber(ev.Properties, orderTotalKeys); total > 0 {
			next.LifetimeValue += total
		}
		next.OrdersCount++
	}
}

func frequencyFor(sessions int) int {
	switch {
	case sessions >= 10:
		return 100
	case sessions >= 5:
		return 70
	case sessions >= 3:
		return 40
	case sessions >= 2:
		return 25
	default:
		return 10
	}
}

// topCategory returns the category with the highest running count, breaking
// ties by first-inserted order.
func topCategory(counts map[string]int, order []string) string {
	best := ""
	bestCount := 0
	for _, category := range order {
		if counts[category] > bestCount {
			best = category
			bestCount = counts[category]
		}
	}
	return best
}

func extractString(props domain.Properties, keys []string) string {
	for _, key := range keys {
		if v, ok := props[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func extractNumber(props domain.Properties, keys []string) float64 {
	for _, key := range keys {
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

func copyCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

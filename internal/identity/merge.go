package identity

import (
	"time"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/scoring"
)

// ChoosePrimary picks the surviving profile among merge candidates. The
// ordering is total, so any concurrent resolution of the same fragments picks
// the same winner: email-bearing profiles beat customer-id-bearing ones,
// then the older profile wins, then the smaller id breaks the tie.
func ChoosePrimary(candidates []*domain.UnifiedProfile) *domain.UnifiedProfile {
	primary := candidates[0]
	for _, c := range candidates[1:] {
		if beats(c, primary) {
			primary = c
		}
	}
	return primary
}

func beats(a, b *domain.UnifiedProfile) bool {
	if a.HasEmail() != b.HasEmail() {
		return a.HasEmail()
	}
	if a.HasCustomerID() != b.HasCustomerID() {
		return a.HasCustomerID()
	}
	if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
		return a.FirstSeenAt.Before(b.FirstSeenAt)
	}
	return a.ID < b.ID
}

// Combine folds the losers into a copy of the primary without touching any
// input. Fragment sets union, explicit traits keep the first non-empty value
// in primary-first order, and computed traits resolve per field: numeric
// scores take the max, timestamps the latest, and the funnel stage the
// furthest reached.
func Combine(primary *domain.UnifiedProfile, losers []*domain.UnifiedProfile, now time.Time) *domain.UnifiedProfile {
	merged := *primary
	merged.Emails = append([]string(nil), primary.Emails...)
	merged.CustomerIDs = append([]string(nil), primary.CustomerIDs...)
	merged.AnonymousIDs = append([]string(nil), primary.AnonymousIDs...)
	merged.Traits = domain.Properties{}
	for k, v := range primary.Traits {
		merged.Traits[k] = v
	}

	for _, loser := range losers {
		merged.Emails = unionStrings(merged.Emails, loser.Emails)
		merged.CustomerIDs = unionStrings(merged.CustomerIDs, loser.CustomerIDs)
		merged.AnonymousIDs = unionStrings(merged.AnonymousIDs, loser.AnonymousIDs)

		if merged.PrimaryEmail == "" {
			merged.PrimaryEmail = loser.PrimaryEmail
		}
		if merged.Phone == "" {
			merged.Phone = loser.Phone
		}
		for k, v := range loser.Traits {
			if _, exists := merged.Traits[k]; !exists {
				merged.Traits[k] = v
			}
		}

		if loser.FirstSeenAt.Before(merged.FirstSeenAt) {
			merged.FirstSeenAt = loser.FirstSeenAt
		}
		if loser.LastSeenAt.After(merged.LastSeenAt) {
			merged.LastSeenAt = loser.LastSeenAt
		}

		merged.Computed = combineComputed(merged.Computed, loser.Computed)
	}

	merged.Computed.RecencyDays = scoring.RecencyDays(merged.Computed.LastActivityAt, now)
	return &merged
}

func combineComputed(a, b domain.ComputedTraits) domain.ComputedTraits {
	out := a

	out.IntentScore = maxFloat(a.IntentScore, b.IntentScore)
	out.FrequencyScore = maxInt(a.FrequencyScore, b.FrequencyScore)
	out.DepthScore = maxInt(a.DepthScore, b.DepthScore)
	out.LifetimeValue = maxFloat(a.LifetimeValue, b.LifetimeValue)
	out.OrdersCount = maxInt(a.OrdersCount, b.OrdersCount)
	out.ProductsViewed = maxInt(a.ProductsViewed, b.ProductsViewed)
	out.CategoriesViewed = maxInt(a.CategoriesViewed, b.CategoriesViewed)
	out.SessionCount30d = maxInt(a.SessionCount30d, b.SessionCount30d)

	if b.DropOffStage.Rank() > a.DropOffStage.Rank() {
		out.DropOffStage = b.DropOffStage
	}
	if b.LastActivityAt.After(a.LastActivityAt) {
		out.LastActivityAt = b.LastActivityAt
		out.LastEventType = b.LastEventType
		out.LastEventName = b.LastEventName
		out.LastSessionID = b.LastSessionID
	}
	if out.TopCategory == "" {
		out.TopCategory = b.TopCategory
	}
	if a.SessionWindowStart.IsZero() || (!b.SessionWindowStart.IsZero() && b.SessionWindowStart.Before(a.SessionWindowStart)) {
		out.SessionWindowStart = b.SessionWindowStart
	}

	out.CategoryCounts = map[string]int{}
	out.CategoryOrder = append([]string(nil), a.CategoryOrder...)
	for k, v := range a.CategoryCounts {
		out.CategoryCounts[k] = v
	}
	for _, k := range b.CategoryOrder {
		if _, exists := out.CategoryCounts[k]; !exists {
			out.CategoryOrder = append(out.CategoryOrder, k)
		}
		out.CategoryCounts[k] += b.CategoryCounts[k]
	}
	if len(out.CategoryCounts) == 0 {
		out.CategoryCounts = nil
		out.CategoryOrder = nil
	}

	return out
}

func unionStrings(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		base = append(base, v)
	}
	return base
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

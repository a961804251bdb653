package domain

// GenericProvider is the fallback provider for billing plan prices.
const GenericProvider = "generic"

// BillingPlan is the price of a plan type at one provider.
type BillingPlan struct {
	PlanType   string `json:"planType"`
	Provider   string `json:"provider"`
	PriceCents int64  `json:"priceCents"` // minor units (7900 = $79)
	Currency   string `json:"currency"`
	Interval   string `json:"interval"` // week or month
}

// DefaultBillingPlans returns the generic rows seeded into a new store.
func DefaultBillingPlans() []BillingPlan {
	return []BillingPlan{
		{PlanType: "starter", Provider: GenericProvider, PriceCents: 2900, Currency: "USD", Interval: IntervalMonth},
		{PlanType: "professional", Provider: GenericProvider, PriceCents: 7900, Currency: "USD", Interval: IntervalMonth},
		{PlanType: "agency", Provider: GenericProvider, PriceCents: 19900, Currency: "USD", Interval: IntervalMonth},
		{PlanType: "trial_week", Provider: GenericProvider, PriceCents: 900, Currency: "USD", Interval: IntervalWeek},
	}
}

// MergePlans returns one plan per plan type, preferring rows of provider over
// generic ones. Order follows the first appearance of each plan type.
func MergePlans(rows []BillingPlan, provider string) []BillingPlan {
	index := make(map[string]int)
	var out []BillingPlan
	for _, p := range rows {
		if p.Provider != provider && p.Provider != GenericProvider {
			continue
		}
		i, seen := index[p.PlanType]
		if !seen {
			index[p.PlanType] = len(out)
			out = append(out, p)
			continue
		}
		if p.Provider == provider {
			out[i] = p
		}
	}
	return out
}

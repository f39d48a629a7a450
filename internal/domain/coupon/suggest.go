package coupon

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promo/internal/domain/cart"
)

// Suggestion nudges the user toward the coupon that is cheapest to unlock:
// AmountNeeded is the additional spend required to reach the threshold and
// PotentialSavings the discount the coupon would yield exactly at it.
type Suggestion struct {
	Coupon           Coupon
	AmountNeeded     decimal.Decimal
	PotentialSavings decimal.Decimal
}

// BestThresholdSuggestion ranks the almost-qualifying coupons and returns
// the top candidate, or nil when none exists. Candidates are active,
// in-window coupons whose threshold the cart has not reached; suggestions
// therefore always satisfy AmountNeeded > 0. Ordering: smallest AmountNeeded
// first, then largest PotentialSavings, then highest Priority. Whether a
// suggestion is worth showing (a display ceiling on the gap) is the caller's
// decision.
func BestThresholdSuggestion(coupons []Coupon, st cart.State, now time.Time, p Pricing) *Suggestion {
	var candidates []Suggestion
	for _, c := range coupons {
		if !c.Active || !c.InWindow(now) {
			continue
		}
		if st.Total.GreaterThanOrEqual(c.Threshold) {
			continue
		}

		// Savings are evaluated at exactly the threshold total.
		atThreshold := cart.State{Total: c.Threshold, Items: st.Items}
		d, err := Compute(&c, atThreshold, p)
		if err != nil {
			continue
		}

		candidates = append(candidates, Suggestion{
			Coupon:           c,
			AmountNeeded:     c.Threshold.Sub(st.Total),
			PotentialSavings: d.Amount,
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.AmountNeeded.Equal(b.AmountNeeded) {
			return a.AmountNeeded.LessThan(b.AmountNeeded)
		}
		if !a.PotentialSavings.Equal(b.PotentialSavings) {
			return a.PotentialSavings.GreaterThan(b.PotentialSavings)
		}
		return a.Coupon.Priority > b.Coupon.Priority
	})

	best := candidates[0]
	return &best
}

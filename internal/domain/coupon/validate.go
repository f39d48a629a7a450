package coupon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promo/internal/domain/cart"
)

// Eligibility reason messages. The first collected reason is the one
// surfaced to the user; the rest are retained for diagnostics.
const (
	ReasonInactive     = "coupon is not active"
	ReasonExpired      = "coupon expired"
	ReasonNotYetActive = "coupon is not yet active"
	ReasonNotInCart    = "coupon is not applicable to items in your cart"
	ReasonUsageLimit   = "coupon usage limit reached"
	ReasonUserLimit    = "you have already used this coupon the maximum number of times"
	ReasonUnavailable  = "coupon is currently unavailable"
)

// ValidationContext carries the per-request inputs that keep Validate pure:
// the evaluation time, the user's prior uses of this coupon, and external
// pricing.
type ValidationContext struct {
	Now time.Time
	// UserUses is the number of times this user has already used the coupon.
	// It is only consulted when the coupon carries a per-user limit.
	UserUses int
	Pricing  Pricing
}

// Result is the outcome of validating a coupon against a cart. Reasons is
// non-empty whenever Valid is false.
type Result struct {
	Valid    bool
	Reasons  []string
	Discount Discount
}

// Reason returns the user-facing reason, the first one collected.
func (r Result) Reason() string {
	if len(r.Reasons) == 0 {
		return ""
	}
	return r.Reasons[0]
}

// Validate checks a coupon's eligibility against the cart state. Every check
// runs without short-circuiting, so the result carries every failing reason. When all checks pass the discount is computed; a computation
// failure (unknown discount type) renders the coupon invalid with a generic
// reason instead of surfacing an error.
func Validate(c *Coupon, st cart.State, vc ValidationContext) Result {
	var reasons []string

	if !c.Active {
		reasons = append(reasons, ReasonInactive)
	}
	if c.ValidFrom != nil && vc.Now.Before(*c.ValidFrom) {
		reasons = append(reasons, ReasonNotYetActive)
	}
	if c.ValidUpto != nil && vc.Now.After(*c.ValidUpto) {
		reasons = append(reasons, ReasonExpired)
	}

	if st.Total.LessThan(c.Threshold) {
		shortfall := c.Threshold.Sub(st.Total)
		reasons = append(reasons, fmt.Sprintf("add %s more to use this coupon", shortfall.String()))
	}

	if len(c.ApplicableCategories) > 0 && !anyItemEligible(c, st.Items) {
		reasons = append(reasons, ReasonNotInCart)
	}

	if c.UsageLimit > 0 && c.Uses >= c.UsageLimit {
		reasons = append(reasons, ReasonUsageLimit)
	}
	if c.UsageLimitPerUser > 0 && vc.UserUses >= c.UsageLimitPerUser {
		reasons = append(reasons, ReasonUserLimit)
	}

	if len(reasons) > 0 {
		return Result{Valid: false, Reasons: reasons, Discount: Discount{Amount: decimal.Zero}}
	}

	d, err := Compute(c, st, vc.Pricing)
	if err != nil {
		return Result{
			Valid:    false,
			Reasons:  []string{ReasonUnavailable},
			Discount: Discount{Amount: decimal.Zero},
		}
	}
	return Result{Valid: true, Discount: d}
}

// anyItemEligible reports whether at least one cart line falls in a category
// the coupon applies to.
func anyItemEligible(c *Coupon, items []cart.Item) bool {
	for _, item := range items {
		if categoryEligible(c, item.Category) {
			return true
		}
	}
	return false
}

package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promo/internal/domain/cart"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
	zero    = decimal.Zero
)

// Pricing carries amounts owned by external collaborators that the discount
// calculation may need. ShippingFee is the fee a shipping coupon would waive;
// it stays zero when the caller has none to supply.
type Pricing struct {
	ShippingFee decimal.Decimal
}

// Compute calculates the discount a coupon yields for the given cart state.
// It is pure and deterministic: the result is never negative and never
// exceeds min(state.Total, MaxDiscount when set). An unknown discount type
// is the only error.
func Compute(c *Coupon, st cart.State, p Pricing) (Discount, error) {
	var d Discount
	switch c.DiscountType {
	case DiscountPercentage:
		d = computePercentage(c, st.Total)
	case DiscountFixed:
		d = computeFixed(c, st.Total)
	case DiscountShipping:
		d = computeShipping(c, p)
	case DiscountBogo:
		d = computeBogo(c, st.Items)
	case DiscountCashback:
		d = computeFixed(c, st.Total)
		d.Cashback = true
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	d.Amount = clamp(d.Amount, st.Total)
	d.Description = c.Description
	return d, nil
}

// computePercentage takes Value percent of the total, caps it at MaxDiscount
// when set, and rounds to the nearest whole currency unit, half up.
func computePercentage(c *Coupon, total decimal.Decimal) Discount {
	amount := total.Mul(c.Value).Div(hundred)
	if c.MaxDiscount.IsPositive() && amount.GreaterThan(c.MaxDiscount) {
		amount = c.MaxDiscount
	}
	return Discount{Amount: amount.Round(0)}
}

func computeFixed(c *Coupon, total decimal.Decimal) Discount {
	return Discount{Amount: decimal.Min(c.Value, total)}
}

// computeShipping waives the externally supplied shipping fee. With no fee
// supplied the waiver is worth zero.
func computeShipping(_ *Coupon, p Pricing) Discount {
	return Discount{Amount: p.ShippingFee, WaivesShipping: true}
}

// computeBogo discounts half the unit price of the cheapest qualifying line.
// When the coupon restricts categories, only lines in an applicable (and not
// excluded) category qualify.
func computeBogo(c *Coupon, items []cart.Item) Discount {
	lowest := zero
	found := false
	for _, item := range items {
		if !categoryEligible(c, item.Category) {
			continue
		}
		if !found || item.Price.LessThan(lowest) {
			lowest = item.Price
			found = true
		}
	}
	if !found {
		return Discount{Amount: zero}
	}
	return Discount{Amount: lowest.Div(two).Round(2)}
}

// categoryEligible reports whether a line in the given category qualifies
// for the coupon. An empty ApplicableCategories set means every category
// qualifies unless explicitly excluded.
func categoryEligible(c *Coupon, category string) bool {
	for _, ex := range c.ExcludedCategories {
		if ex == category {
			return false
		}
	}
	if len(c.ApplicableCategories) == 0 {
		return true
	}
	for _, ap := range c.ApplicableCategories {
		if ap == category {
			return true
		}
	}
	return false
}

// clamp bounds an amount to [0, total].
func clamp(amount, total decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return zero
	}
	if amount.GreaterThan(total) {
		return total
	}
	return amount
}

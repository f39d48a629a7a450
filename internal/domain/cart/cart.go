// Package cart turns raw bag rows into a normalized, numeric snapshot of a
// user's active cart. The snapshot is derived fresh on every request and is
// never persisted.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Item is a single active cart line with its product data resolved.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
	Category  string
}

// State is the normalized cart snapshot used by the coupon engine.
type State struct {
	Total decimal.Decimal
	Items []Item
}

// BagRow is a raw per-user, per-product bag entry. Price and Category are
// resolved from the product catalog; Resolved is false when the referenced
// product no longer exists. AppliedCouponID and DiscountAmount are the two
// fields owned by the coupon engine.
type BagRow struct {
	ProductID     string
	Quantity      int
	SavedForLater bool
	Resolved      bool
	Price         decimal.Decimal
	Category      string

	AppliedCouponID string
	DiscountAmount  decimal.Decimal
}

// Store provides access to a user's bag rows and owns the durable coupon
// fields on them.
type Store interface {
	// ActiveRows returns every non-saved-for-later row for the user,
	// including unresolved ones; excluding those is Snapshot's job.
	ActiveRows(ctx context.Context, userID string) ([]BagRow, error)
	// SetCoupon writes the coupon id and discount amount onto every active
	// row for the user. The write is all-or-nothing.
	SetCoupon(ctx context.Context, userID, couponID string, discount decimal.Decimal) error
	// ClearCoupon removes the coupon id and discount amount from every
	// active row for the user. The write is all-or-nothing.
	ClearCoupon(ctx context.Context, userID string) error
}

// Snapshot builds a State from raw bag rows. Saved-for-later rows and rows
// whose product could not be resolved are excluded from both the total and
// the item list; a deleted product is policy, not an error. Snapshot never
// fails: an empty or fully-excluded bag yields a zero-total State.
func Snapshot(rows []BagRow) State {
	st := State{Total: decimal.Zero}
	for _, row := range rows {
		if row.SavedForLater || !row.Resolved {
			continue
		}
		if row.Quantity <= 0 {
			continue
		}
		st.Items = append(st.Items, Item{
			ProductID: row.ProductID,
			Price:     row.Price,
			Quantity:  row.Quantity,
			Category:  row.Category,
		})
		line := row.Price.Mul(decimal.NewFromInt(int64(row.Quantity)))
		st.Total = st.Total.Add(line)
	}
	return st
}

// AppliedCouponID returns the coupon id referenced by the user's rows, or ""
// when no coupon is applied. At most one coupon id is ever referenced across
// a user's active rows.
func AppliedCouponID(rows []BagRow) string {
	for _, row := range rows {
		if row.SavedForLater {
			continue
		}
		if row.AppliedCouponID != "" {
			return row.AppliedCouponID
		}
	}
	return ""
}

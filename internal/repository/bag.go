package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promo/internal/domain/cart"
)

const (
	// Bag rows are joined against products so the snapshot sees resolved
	// prices and categories. A LEFT JOIN keeps rows whose product was
	// deleted; they come back unresolved and the extractor drops them.
	getActiveBagRowsSQL = `SELECT b.product_id, b.quantity, b.saved_for_later,
			b.applied_coupon_id, b.discount_amount,
			p.price, p.category, (p.id IS NOT NULL) AS resolved
		FROM bag_items b
		LEFT JOIN products p ON p.id = b.product_id
		WHERE b.user_id = $1 AND b.saved_for_later = FALSE
		ORDER BY b.product_id`

	// A single UPDATE touches every active row at once, so the multi-row
	// coupon write is observably all-or-nothing.
	setBagCouponSQL = `UPDATE bag_items
		SET applied_coupon_id = $2, discount_amount = $3
		WHERE user_id = $1 AND saved_for_later = FALSE`

	clearBagCouponSQL = `UPDATE bag_items
		SET applied_coupon_id = NULL, discount_amount = 0
		WHERE user_id = $1 AND saved_for_later = FALSE`
)

var _ cart.Store = (*BagStore)(nil)

// BagStore implements cart.Store backed by PostgreSQL.
type BagStore struct {
	pool *pgxpool.Pool
}

// NewBagStore returns a BagStore that uses the given pool.
func NewBagStore(pool *pgxpool.Pool) *BagStore {
	return &BagStore{pool: pool}
}

// ActiveRows returns the user's non-saved-for-later bag rows with product
// price and category resolved where the product still exists.
func (s *BagStore) ActiveRows(ctx context.Context, userID string) ([]cart.BagRow, error) {
	rows, err := s.pool.Query(ctx, getActiveBagRowsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("loading bag rows for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanBagRow)
}

// SetCoupon stamps the coupon id and discount amount on every active row.
func (s *BagStore) SetCoupon(ctx context.Context, userID, couponID string, discount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, setBagCouponSQL, userID, couponID, discount)
	if err != nil {
		return fmt.Errorf("setting coupon on bag rows for user %q: %w", userID, err)
	}
	return nil
}

// ClearCoupon removes the coupon fields from every active row.
func (s *BagStore) ClearCoupon(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, clearBagCouponSQL, userID)
	if err != nil {
		return fmt.Errorf("clearing coupon on bag rows for user %q: %w", userID, err)
	}
	return nil
}

func scanBagRow(row pgx.CollectableRow) (cart.BagRow, error) {
	var (
		r        cart.BagRow
		couponID *string
		price    *decimal.Decimal
		category *string
	)
	err := row.Scan(
		&r.ProductID, &r.Quantity, &r.SavedForLater,
		&couponID, &r.DiscountAmount,
		&price, &category, &r.Resolved,
	)
	if couponID != nil {
		r.AppliedCouponID = *couponID
	}
	if price != nil {
		r.Price = *price
	}
	if category != nil {
		r.Category = *category
	}
	return r, err
}

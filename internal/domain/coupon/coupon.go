// Package coupon holds the coupon data model and the pure rule engine:
// discount computation, eligibility validation, and threshold suggestions.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the cart total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the cart total.
	DiscountFixed DiscountType = "fixed"
	// DiscountShipping waives the shipping fee supplied by the caller.
	DiscountShipping DiscountType = "shipping"
	// DiscountBogo discounts half the unit price of the cheapest qualifying line.
	DiscountBogo DiscountType = "bogo"
	// DiscountCashback deducts like a fixed discount but is credited back to
	// the user's wallet downstream rather than reducing the price paid.
	DiscountCashback DiscountType = "cashback"
)

// ErrNotFound is returned when a coupon code or id resolves to nothing in
// either the catalog or the legacy store.
var ErrNotFound = errors.New("coupon not found")

// Coupon defines a discount rule and its eligibility constraints. Coupons are
// administered outside this engine and are read-only here except for the Uses
// counter, which only moves through Repository.IncrementUses/DecrementUses.
type Coupon struct {
	ID          string
	Code        string // canonical: uppercase, unique
	Description string

	DiscountType DiscountType
	Value        decimal.Decimal
	Threshold    decimal.Decimal // minimum qualifying cart total
	MaxDiscount  decimal.Decimal // zero means uncapped

	ValidFrom *time.Time
	ValidUpto *time.Time
	Active    bool
	Priority  int

	UsageLimit        int // zero means unlimited
	UsageLimitPerUser int // zero means unlimited
	Uses              int

	ApplicableCategories []string
	ExcludedCategories   []string

	CreatedAt time.Time
}

// Discount is the outcome of applying a coupon to a cart.
type Discount struct {
	Amount decimal.Decimal
	// Cashback marks the amount as a wallet credit rather than a price
	// reduction, so downstream consumers can tell the two apart.
	Cashback bool
	// WaivesShipping marks that the shipping fee is waived; computing the
	// fee itself belongs to the shipping collaborator.
	WaivesShipping bool
	Description    string
}

// CanonicalCode normalizes a user-supplied code for lookup and storage.
// Codes are matched case-insensitively and stored uppercase.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// InWindow reports whether the coupon's validity window contains t.
// A nil bound is open.
func (c *Coupon) InWindow(t time.Time) bool {
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUpto != nil && t.After(*c.ValidUpto) {
		return false
	}
	return true
}

// Repository provides coupon lookup and the engine's only mutation: the
// global and per-user usage counters. Increment and decrement must be
// linearizable per coupon id; decrement floors the counter at zero.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id string) (*Coupon, error)
	ListActive(ctx context.Context) ([]Coupon, error)
	ListExpired(ctx context.Context) ([]Coupon, error)

	IncrementUses(ctx context.Context, couponID, userID string) error
	DecrementUses(ctx context.Context, couponID, userID string) error
	UserUses(ctx context.Context, couponID, userID string) (int, error)
}

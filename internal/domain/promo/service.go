// Package promo orchestrates coupon application against a user's cart: the
// per-user state machine NoCouponApplied <-> CouponApplied, plus the
// read-only coupon listings and threshold suggestions.
package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promo/internal/domain/cart"
	"github.com/xenking/kart-promo/internal/domain/coupon"
)

// User-facing failure messages for locally resolved errors. Business-rule
// and not-found failures are data, never errors across this boundary.
const (
	MsgCodeRequired   = "coupon code required"
	MsgEmptyBag       = "your bag is empty"
	MsgUnknownCode    = "invalid coupon code"
	MsgAlreadyApplied = "a coupon is already applied; remove it before applying another"
	MsgNothingApplied = "no coupon applied"
)

// ShippingFees supplies the shipping fee a shipping coupon would waive.
// The engine never computes fees itself.
type ShippingFees interface {
	Fee(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Service coordinates the bag store and the coupon repository. All lookups
// and row writes are I/O against injected collaborators; the rule evaluation
// it delegates to is pure.
type Service struct {
	bags     cart.Store
	coupons  coupon.Repository
	shipping ShippingFees // optional; nil means a zero shipping fee
	now      func() time.Time
}

// NewService creates a promo Service. shipping may be nil when no shipping
// collaborator is wired; shipping coupons then waive a zero fee.
func NewService(bags cart.Store, coupons coupon.Repository, shipping ShippingFees) *Service {
	return &Service{
		bags:     bags,
		coupons:  coupons,
		shipping: shipping,
		now:      time.Now,
	}
}

// ApplyResult is the outcome of an apply attempt. On failure Message holds
// the user-facing reason and Errors every collected reason.
type ApplyResult struct {
	Success        bool
	CouponID       string
	CouponCode     string
	DiscountAmount decimal.Decimal
	CartTotal      decimal.Decimal
	NewTotal       decimal.Decimal
	Cashback       bool
	Message        string
	Errors         []string
}

// RemoveResult is the outcome of a remove. Removing with nothing applied is
// a no-op success.
type RemoveResult struct {
	Success        bool
	DiscountAmount decimal.Decimal
}

// RevalidateResult reports whether the applied coupon is still valid after a
// cart change. ShouldRemove is true when the coupon was cleared.
type RevalidateResult struct {
	Valid        bool
	ShouldRemove bool
	Reason       string
	NewDiscount  decimal.Decimal
}

// CouponStatus pairs a coupon with its applicability against the current cart.
type CouponStatus struct {
	Coupon     coupon.Coupon
	Applicable bool
	Reason     string
	Discount   decimal.Decimal
}

// AvailableResult lists active coupons with their applicability plus the
// expired ones, for display.
type AvailableResult struct {
	Available []CouponStatus
	Expired   []coupon.Coupon
	CartTotal decimal.Decimal
}

// SuggestionResult carries the best threshold suggestion, nil when the cart
// unlocks nothing by spending more.
type SuggestionResult struct {
	CartTotal  decimal.Decimal
	Suggestion *coupon.Suggestion
}

// PreviewResult is the outcome of a stateless find-and-validate call.
type PreviewResult struct {
	Valid          bool
	CouponCode     string
	DiscountAmount decimal.Decimal
	Message        string
	Errors         []string
}

// Apply canonicalizes the code, resolves it, validates it against the user's
// current cart, and on success stamps every active bag row with the coupon
// all-or-nothing before incrementing the usage counter. Applying while a
// coupon is already active is rejected rather than silently overwritten.
// Failures of business rules come back as an unsuccessful result; only
// storage problems surface as errors, and none of them leave partial
// coupon state behind.
func (s *Service) Apply(ctx context.Context, userID, code string) (*ApplyResult, error) {
	code = coupon.CanonicalCode(code)
	if code == "" {
		return applyFailure(MsgCodeRequired), nil
	}

	rows, err := s.bags.ActiveRows(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load bag rows")
	}
	if cart.AppliedCouponID(rows) != "" {
		return applyFailure(MsgAlreadyApplied), nil
	}

	st := cart.Snapshot(rows)
	if len(st.Items) == 0 {
		return applyFailure(MsgEmptyBag), nil
	}

	c, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return applyFailure(MsgUnknownCode), nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	vc, err := s.validationContext(ctx, c, userID)
	if err != nil {
		return nil, err
	}

	res := coupon.Validate(c, st, vc)
	if !res.Valid {
		return &ApplyResult{
			Success:   false,
			Message:   res.Reason(),
			Errors:    res.Reasons,
			CartTotal: st.Total,
		}, nil
	}

	if err := s.bags.SetCoupon(ctx, userID, c.ID, res.Discount.Amount); err != nil {
		return nil, errors.Wrap(err, "write coupon to bag rows")
	}
	if err := s.coupons.IncrementUses(ctx, c.ID, userID); err != nil {
		// Roll the rows back so no partial application survives.
		_ = s.bags.ClearCoupon(ctx, userID)
		return nil, errors.Wrap(err, "increment coupon uses")
	}

	newTotal := st.Total.Sub(res.Discount.Amount)
	if newTotal.IsNegative() {
		newTotal = decimal.Zero
	}
	return &ApplyResult{
		Success:        true,
		CouponID:       c.ID,
		CouponCode:     c.Code,
		DiscountAmount: res.Discount.Amount,
		CartTotal:      st.Total,
		NewTotal:       newTotal,
		Cashback:       res.Discount.Cashback,
	}, nil
}

// Remove clears the applied coupon from every active row and decrements its
// usage counter. With nothing applied it is a no-op success with a zero
// discount and no counter mutation, so calling it twice is safe.
func (s *Service) Remove(ctx context.Context, userID string) (*RemoveResult, error) {
	rows, err := s.bags.ActiveRows(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load bag rows")
	}

	appliedID := cart.AppliedCouponID(rows)
	if appliedID == "" {
		return &RemoveResult{Success: true, DiscountAmount: decimal.Zero}, nil
	}

	if err := s.bags.ClearCoupon(ctx, userID); err != nil {
		return nil, errors.Wrap(err, "clear coupon from bag rows")
	}
	if err := s.coupons.DecrementUses(ctx, appliedID, userID); err != nil && !errors.Is(err, coupon.ErrNotFound) {
		return nil, errors.Wrap(err, "decrement coupon uses")
	}

	return &RemoveResult{Success: true, DiscountAmount: decimal.Zero}, nil
}

// Revalidate re-runs validation for the applied coupon against the current
// cart. Callers must invoke it whenever cart composition changes; it does
// not trigger itself. A still-valid coupon keeps its state (rows are
// rewritten when the discount changed); an invalid one is cleared and its
// usage decremented, exactly like Remove.
func (s *Service) Revalidate(ctx context.Context, userID string) (*RevalidateResult, error) {
	rows, err := s.bags.ActiveRows(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load bag rows")
	}

	appliedID := cart.AppliedCouponID(rows)
	if appliedID == "" {
		return &RevalidateResult{
			Valid:       false,
			Reason:      MsgNothingApplied,
			NewDiscount: decimal.Zero,
		}, nil
	}

	c, err := s.coupons.FindByID(ctx, appliedID)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return s.invalidate(ctx, userID, appliedID, MsgUnknownCode)
		}
		return nil, errors.Wrap(err, "lookup applied coupon")
	}

	st := cart.Snapshot(rows)
	vc, err := s.validationContext(ctx, c, userID)
	if err != nil {
		return nil, err
	}

	// The apply that stamped these rows already counted one use for this
	// user; do not fail the coupon for its own application.
	if c.UsageLimitPerUser > 0 && vc.UserUses > 0 {
		vc.UserUses--
	}
	if c.UsageLimit > 0 && c.Uses > 0 {
		c.Uses--
	}

	res := coupon.Validate(c, st, vc)
	if !res.Valid {
		return s.invalidate(ctx, userID, appliedID, res.Reason())
	}

	if !res.Discount.Amount.Equal(currentDiscount(rows)) {
		if err := s.bags.SetCoupon(ctx, userID, appliedID, res.Discount.Amount); err != nil {
			return nil, errors.Wrap(err, "refresh discount on bag rows")
		}
	}
	return &RevalidateResult{Valid: true, NewDiscount: res.Discount.Amount}, nil
}

// invalidate performs the clear+decrement shared by Revalidate's failure
// paths and reports that the coupon should be removed.
func (s *Service) invalidate(ctx context.Context, userID, couponID, reason string) (*RevalidateResult, error) {
	if err := s.bags.ClearCoupon(ctx, userID); err != nil {
		return nil, errors.Wrap(err, "clear coupon from bag rows")
	}
	if err := s.coupons.DecrementUses(ctx, couponID, userID); err != nil && !errors.Is(err, coupon.ErrNotFound) {
		return nil, errors.Wrap(err, "decrement coupon uses")
	}
	return &RevalidateResult{
		Valid:        false,
		ShouldRemove: true,
		Reason:       reason,
		NewDiscount:  decimal.Zero,
	}, nil
}

// Available lists active coupons with their applicability against the
// current cart, plus expired ones. A coupon whose evaluation fails
// internally is still listed as not applicable with a generic reason
// rather than being dropped.
func (s *Service) Available(ctx context.Context, userID string) (*AvailableResult, error) {
	rows, err := s.bags.ActiveRows(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load bag rows")
	}
	st := cart.Snapshot(rows)

	active, err := s.coupons.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}
	expired, err := s.coupons.ListExpired(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list expired coupons")
	}

	statuses := make([]CouponStatus, 0, len(active))
	for _, c := range active {
		statuses = append(statuses, s.evaluate(ctx, c, st, userID))
	}

	return &AvailableResult{
		Available: statuses,
		Expired:   expired,
		CartTotal: st.Total,
	}, nil
}

// evaluate builds the display status for one coupon. Lookup problems for
// per-user usage degrade to "not applicable" instead of failing the listing.
func (s *Service) evaluate(ctx context.Context, c coupon.Coupon, st cart.State, userID string) CouponStatus {
	vc, err := s.validationContext(ctx, &c, userID)
	if err != nil {
		return CouponStatus{
			Coupon:   c,
			Reason:   coupon.ReasonUnavailable,
			Discount: decimal.Zero,
		}
	}

	res := coupon.Validate(&c, st, vc)
	return CouponStatus{
		Coupon:     c,
		Applicable: res.Valid,
		Reason:     res.Reason(),
		Discount:   res.Discount.Amount,
	}
}

// ThresholdSuggestion returns the best "you're almost there" nudge for the
// user's cart, nil when no active coupon sits above the current total.
func (s *Service) ThresholdSuggestion(ctx context.Context, userID string) (*SuggestionResult, error) {
	rows, err := s.bags.ActiveRows(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load bag rows")
	}
	st := cart.Snapshot(rows)

	active, err := s.coupons.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}

	sg := coupon.BestThresholdSuggestion(active, st, s.now(), s.pricing(ctx, userID))
	return &SuggestionResult{CartTotal: st.Total, Suggestion: sg}, nil
}

// Preview resolves and validates a code against a caller-supplied cart state
// without touching bag rows or counters. This is the legacy store's combined
// find-and-validate surface, kept for clients that price carts outside the
// bag.
func (s *Service) Preview(ctx context.Context, userID, code string, st cart.State) (*PreviewResult, error) {
	code = coupon.CanonicalCode(code)
	if code == "" {
		return &PreviewResult{Valid: false, Message: MsgCodeRequired, Errors: []string{MsgCodeRequired}}, nil
	}

	c, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return &PreviewResult{Valid: false, Message: MsgUnknownCode, Errors: []string{MsgUnknownCode}}, nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	vc, err := s.validationContext(ctx, c, userID)
	if err != nil {
		return nil, err
	}

	res := coupon.Validate(c, st, vc)
	if !res.Valid {
		return &PreviewResult{Valid: false, CouponCode: c.Code, Message: res.Reason(), Errors: res.Reasons}, nil
	}
	return &PreviewResult{
		Valid:          true,
		CouponCode:     c.Code,
		DiscountAmount: res.Discount.Amount,
	}, nil
}

// validationContext assembles the per-request inputs for the pure validator.
// Per-user usage is only fetched when the coupon limits it; a missing or
// failing shipping collaborator degrades to a zero fee.
func (s *Service) validationContext(ctx context.Context, c *coupon.Coupon, userID string) (coupon.ValidationContext, error) {
	vc := coupon.ValidationContext{
		Now:     s.now(),
		Pricing: s.pricing(ctx, userID),
	}
	if c.UsageLimitPerUser > 0 {
		uses, err := s.coupons.UserUses(ctx, c.ID, userID)
		if err != nil {
			return vc, errors.Wrap(err, "lookup per-user coupon uses")
		}
		vc.UserUses = uses
	}
	return vc, nil
}

func (s *Service) pricing(ctx context.Context, userID string) coupon.Pricing {
	if s.shipping == nil {
		return coupon.Pricing{ShippingFee: decimal.Zero}
	}
	fee, err := s.shipping.Fee(ctx, userID)
	if err != nil {
		return coupon.Pricing{ShippingFee: decimal.Zero}
	}
	return coupon.Pricing{ShippingFee: fee}
}

func currentDiscount(rows []cart.BagRow) decimal.Decimal {
	for _, row := range rows {
		if !row.SavedForLater && row.AppliedCouponID != "" {
			return row.DiscountAmount
		}
	}
	return decimal.Zero
}

func applyFailure(msg string) *ApplyResult {
	return &ApplyResult{
		Success:        false,
		Message:        msg,
		Errors:         []string{msg},
		DiscountAmount: decimal.Zero,
		CartTotal:      decimal.Zero,
		NewTotal:       decimal.Zero,
	}
}

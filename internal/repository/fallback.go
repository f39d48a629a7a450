package repository

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-promo/internal/domain/coupon"
)

var _ coupon.Repository = (*FallbackRepository)(nil)

// FallbackRepository unifies the two coupon sources behind one repository:
// lookups try the primary catalog first and fall back to the legacy store,
// so business logic never branches on which backing store answered. Counter
// mutations are routed to whichever source owns the coupon id, resolved in
// the same order.
type FallbackRepository struct {
	primary   coupon.Repository
	secondary coupon.Repository
}

// NewFallbackRepository builds the unified repository with the fixed
// catalog-first, store-second resolution order.
func NewFallbackRepository(primary, secondary coupon.Repository) *FallbackRepository {
	return &FallbackRepository{primary: primary, secondary: secondary}
}

// FindByCode resolves a code against the primary source, then the secondary.
func (r *FallbackRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := r.primary.FindByCode(ctx, code)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, coupon.ErrNotFound) {
		return nil, err
	}
	return r.secondary.FindByCode(ctx, code)
}

// FindByID resolves an id against the primary source, then the secondary.
func (r *FallbackRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	c, err := r.primary.FindByID(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, coupon.ErrNotFound) {
		return nil, err
	}
	return r.secondary.FindByID(ctx, id)
}

// ListActive merges both sources' active coupons. On code collisions the
// primary catalog wins.
func (r *FallbackRepository) ListActive(ctx context.Context) ([]coupon.Coupon, error) {
	return r.merge(ctx, coupon.Repository.ListActive)
}

// ListExpired merges both sources' expired coupons, primary winning on
// code collisions.
func (r *FallbackRepository) ListExpired(ctx context.Context) ([]coupon.Coupon, error) {
	return r.merge(ctx, coupon.Repository.ListExpired)
}

func (r *FallbackRepository) merge(
	ctx context.Context,
	list func(coupon.Repository, context.Context) ([]coupon.Coupon, error),
) ([]coupon.Coupon, error) {
	first, err := list(r.primary, ctx)
	if err != nil {
		return nil, err
	}
	second, err := list(r.secondary, ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(first))
	out := make([]coupon.Coupon, 0, len(first)+len(second))
	for _, c := range first {
		seen[c.Code] = struct{}{}
		out = append(out, c)
	}
	for _, c := range second {
		if _, dup := seen[c.Code]; dup {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// IncrementUses bumps the counters on whichever source owns the coupon.
func (r *FallbackRepository) IncrementUses(ctx context.Context, couponID, userID string) error {
	err := r.primary.IncrementUses(ctx, couponID, userID)
	if err == nil || !errors.Is(err, coupon.ErrNotFound) {
		return err
	}
	return r.secondary.IncrementUses(ctx, couponID, userID)
}

// DecrementUses lowers the counters on whichever source owns the coupon.
func (r *FallbackRepository) DecrementUses(ctx context.Context, couponID, userID string) error {
	err := r.primary.DecrementUses(ctx, couponID, userID)
	if err == nil || !errors.Is(err, coupon.ErrNotFound) {
		return err
	}
	return r.secondary.DecrementUses(ctx, couponID, userID)
}

// UserUses reads the per-user count from whichever source owns the coupon.
func (r *FallbackRepository) UserUses(ctx context.Context, couponID, userID string) (int, error) {
	uses, err := r.primary.UserUses(ctx, couponID, userID)
	if err == nil || !errors.Is(err, coupon.ErrNotFound) {
		return uses, err
	}
	return r.secondary.UserUses(ctx, couponID, userID)
}

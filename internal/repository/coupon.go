package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-promo/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, value, threshold, max_discount,
		valid_from, valid_upto, active, priority, usage_limit, usage_limit_per_user, uses,
		applicable_categories, excluded_categories, created_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listActiveCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE active = TRUE AND (valid_upto IS NULL OR valid_upto >= now())
		ORDER BY priority DESC, code`

	listExpiredCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE active = TRUE AND valid_upto IS NOT NULL AND valid_upto < now()
		ORDER BY valid_upto DESC, code`

	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1 WHERE id = $1`

	decrementCouponUsesSQL = `UPDATE coupons SET uses = GREATEST(uses - 1, 0) WHERE id = $1`

	upsertUserUsesSQL = `INSERT INTO coupon_user_uses (coupon_id, user_id, uses)
		VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, user_id) DO UPDATE SET uses = coupon_user_uses.uses + 1`

	decrementUserUsesSQL = `UPDATE coupon_user_uses SET uses = GREATEST(uses - 1, 0)
		WHERE coupon_id = $1 AND user_id = $2`

	getUserUsesSQL = `SELECT COALESCE(
		(SELECT uses FROM coupon_user_uses WHERE coupon_id = $1 AND user_id = $2), 0)`

	upsertCouponSQL = `INSERT INTO coupons (id, code, description, discount_type, value, threshold,
			max_discount, valid_from, valid_upto, active, priority, usage_limit, usage_limit_per_user,
			applicable_categories, excluded_categories)
		VALUES ($1, UPPER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			threshold = EXCLUDED.threshold,
			max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from,
			valid_upto = EXCLUDED.valid_upto,
			active = EXCLUDED.active,
			priority = EXCLUDED.priority,
			usage_limit = EXCLUDED.usage_limit,
			usage_limit_per_user = EXCLUDED.usage_limit_per_user,
			applicable_categories = EXCLUDED.applicable_categories,
			excluded_categories = EXCLUDED.excluded_categories`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository is the legacy persisted coupon store backed by PostgreSQL.
// The unified resolver consults it after the in-memory catalog.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, case-insensitively. Returns
// coupon.ErrNotFound when no such coupon exists; the active flag and
// validity window are the validator's concern, not a lookup filter.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByCodeSQL, code)
}

// FindByID looks up a coupon by its identifier.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) findOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}
	return &c, nil
}

// ListActive returns every active coupon whose validity window has not closed.
func (r *CouponRepository) ListActive(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// ListExpired returns active-flagged coupons whose validity window has closed.
func (r *CouponRepository) ListExpired(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listExpiredCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing expired coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// IncrementUses atomically bumps the coupon's global counter and the user's
// per-user counter in one transaction. Single-statement updates keep the
// counters linearizable per coupon id under concurrent applies.
func (r *CouponRepository) IncrementUses(ctx context.Context, couponID, userID string) error {
	return r.mutateUses(ctx, couponID, userID, incrementCouponUsesSQL, upsertUserUsesSQL)
}

// DecrementUses lowers both counters, flooring each at zero.
func (r *CouponRepository) DecrementUses(ctx context.Context, couponID, userID string) error {
	return r.mutateUses(ctx, couponID, userID, decrementCouponUsesSQL, decrementUserUsesSQL)
}

func (r *CouponRepository) mutateUses(ctx context.Context, couponID, userID, globalSQL, userSQL string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning uses transaction for coupon %q: %w", couponID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, globalSQL, couponID)
	if err != nil {
		return fmt.Errorf("updating uses for coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}

	if _, err := tx.Exec(ctx, userSQL, couponID, userID); err != nil {
		return fmt.Errorf("updating per-user uses for coupon %q: %w", couponID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing uses transaction for coupon %q: %w", couponID, err)
	}
	return nil
}

// UserUses reports how many times the user has used the coupon.
func (r *CouponRepository) UserUses(ctx context.Context, couponID, userID string) (int, error) {
	var uses int
	if err := r.pool.QueryRow(ctx, getUserUsesSQL, couponID, userID).Scan(&uses); err != nil {
		return 0, fmt.Errorf("getting per-user uses for coupon %q: %w", couponID, err)
	}
	return uses, nil
}

// Upsert inserts or updates a coupon definition. Used by the seed and
// ingest tools; the API never writes coupon definitions.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, c.Description, string(c.DiscountType), c.Value, c.Threshold,
		c.MaxDiscount, c.ValidFrom, c.ValidUpto, c.Active, c.Priority,
		c.UsageLimit, c.UsageLimitPerUser, c.ApplicableCategories, c.ExcludedCategories,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.Value, &c.Threshold, &c.MaxDiscount,
		&c.ValidFrom, &c.ValidUpto, &c.Active, &c.Priority, &c.UsageLimit, &c.UsageLimitPerUser,
		&c.Uses, &c.ApplicableCategories, &c.ExcludedCategories, &c.CreatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}

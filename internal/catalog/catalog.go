// Package catalog is the primary coupon source: a JSON-seeded, in-memory
// catalog. It is injected as a coupon.Repository rather than reached as
// global state, and it owns the in-process usage counters.
package catalog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promo/internal/domain/coupon"
)

// entry pairs a coupon with its per-user usage counts. Both are guarded by
// the catalog mutex, which is the per-coupon serialization point the usage
// counters need.
type entry struct {
	c        coupon.Coupon
	userUses map[string]int
}

// Catalog implements coupon.Repository over an in-memory coupon set.
type Catalog struct {
	mu     sync.RWMutex
	byID   map[string]*entry
	byCode map[string]string // canonical code -> id

	now func() time.Time
}

var _ coupon.Repository = (*Catalog)(nil)

// couponJSON is the seed file representation of a coupon.
type couponJSON struct {
	ID                   string          `json:"id"`
	Code                 string          `json:"code"`
	Description          string          `json:"description"`
	DiscountType         string          `json:"discount_type"`
	Value                decimal.Decimal `json:"value"`
	Threshold            decimal.Decimal `json:"threshold"`
	MaxDiscount          decimal.Decimal `json:"max_discount"`
	ValidFrom            *time.Time      `json:"valid_from"`
	ValidUpto            *time.Time      `json:"valid_upto"`
	Active               bool            `json:"active"`
	Priority             int             `json:"priority"`
	UsageLimit           int             `json:"usage_limit"`
	UsageLimitPerUser    int             `json:"usage_limit_per_user"`
	ApplicableCategories []string        `json:"applicable_categories"`
	ExcludedCategories   []string        `json:"excluded_categories"`
}

// Load parses a JSON coupon seed and builds a Catalog from it.
func Load(data []byte) (*Catalog, error) {
	var seeds []couponJSON
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, errors.Wrap(err, "parse coupon seed")
	}

	c := &Catalog{
		byID:   make(map[string]*entry, len(seeds)),
		byCode: make(map[string]string, len(seeds)),
		now:    time.Now,
	}
	for _, s := range seeds {
		code := coupon.CanonicalCode(s.Code)
		if s.ID == "" || code == "" {
			return nil, errors.Errorf("coupon seed entry missing id or code: %+v", s)
		}
		if _, dup := c.byCode[code]; dup {
			return nil, errors.Errorf("duplicate coupon code %q in seed", code)
		}
		c.byID[s.ID] = &entry{
			c: coupon.Coupon{
				ID:                   s.ID,
				Code:                 code,
				Description:          s.Description,
				DiscountType:         coupon.DiscountType(s.DiscountType),
				Value:                s.Value,
				Threshold:            s.Threshold,
				MaxDiscount:          s.MaxDiscount,
				ValidFrom:            s.ValidFrom,
				ValidUpto:            s.ValidUpto,
				Active:               s.Active,
				Priority:             s.Priority,
				UsageLimit:           s.UsageLimit,
				UsageLimitPerUser:    s.UsageLimitPerUser,
				ApplicableCategories: s.ApplicableCategories,
				ExcludedCategories:   s.ExcludedCategories,
			},
			userUses: make(map[string]int),
		}
		c.byCode[code] = s.ID
	}
	return c, nil
}

// FindByCode looks up a coupon by canonical code. It returns a copy with the
// current usage count, so callers never share the mutable entry.
func (c *Catalog) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byCode[coupon.CanonicalCode(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := c.byID[id].c
	return &cp, nil
}

// FindByID looks up a coupon by id, returning a copy.
func (c *Catalog) FindByID(_ context.Context, id string) (*coupon.Coupon, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byID[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := e.c
	return &cp, nil
}

// ListActive returns every active, not-yet-expired coupon. Coupons whose
// window has not opened are included; the validator reports those as not
// yet active.
func (c *Catalog) ListActive(_ context.Context) ([]coupon.Coupon, error) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []coupon.Coupon
	for _, e := range c.byID {
		if !e.c.Active || expired(&e.c, now) {
			continue
		}
		out = append(out, e.c)
	}
	return out, nil
}

// ListExpired returns active-flagged coupons whose validity window has closed.
func (c *Catalog) ListExpired(_ context.Context) ([]coupon.Coupon, error) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []coupon.Coupon
	for _, e := range c.byID {
		if !e.c.Active || !expired(&e.c, now) {
			continue
		}
		out = append(out, e.c)
	}
	return out, nil
}

// IncrementUses bumps the coupon's global and per-user counters by one.
func (c *Catalog) IncrementUses(_ context.Context, couponID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[couponID]
	if !ok {
		return coupon.ErrNotFound
	}
	e.c.Uses++
	e.userUses[userID]++
	return nil
}

// DecrementUses lowers the coupon's counters by one, flooring at zero; the
// global counter never goes negative.
func (c *Catalog) DecrementUses(_ context.Context, couponID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[couponID]
	if !ok {
		return coupon.ErrNotFound
	}
	if e.c.Uses > 0 {
		e.c.Uses--
	}
	if e.userUses[userID] > 0 {
		e.userUses[userID]--
	}
	return nil
}

// UserUses reports how many times the user has used the coupon.
func (c *Catalog) UserUses(_ context.Context, couponID, userID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byID[couponID]
	if !ok {
		return 0, coupon.ErrNotFound
	}
	return e.userUses[userID], nil
}

func expired(c *coupon.Coupon, now time.Time) bool {
	return c.ValidUpto != nil && now.After(*c.ValidUpto)
}

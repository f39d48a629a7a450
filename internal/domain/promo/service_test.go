package promo

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-promo/internal/domain/cart"
	"github.com/xenking/kart-promo/internal/domain/coupon"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// mockBagStore keeps bag rows in memory and records coupon writes.
type mockBagStore struct {
	rows     []cart.BagRow
	rowsErr  error
	setErr   error
	clearErr error

	setCalls   int
	clearCalls int
}

func (m *mockBagStore) ActiveRows(context.Context, string) ([]cart.BagRow, error) {
	if m.rowsErr != nil {
		return nil, m.rowsErr
	}
	out := make([]cart.BagRow, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

func (m *mockBagStore) SetCoupon(_ context.Context, _ string, couponID string, discount decimal.Decimal) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.setCalls++
	for i := range m.rows {
		if !m.rows[i].SavedForLater {
			m.rows[i].AppliedCouponID = couponID
			m.rows[i].DiscountAmount = discount
		}
	}
	return nil
}

func (m *mockBagStore) ClearCoupon(context.Context, string) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.clearCalls++
	for i := range m.rows {
		if !m.rows[i].SavedForLater {
			m.rows[i].AppliedCouponID = ""
			m.rows[i].DiscountAmount = decimal.Zero
		}
	}
	return nil
}

// mockCouponRepo serves coupons from a map and tracks counter mutations.
type mockCouponRepo struct {
	coupons      map[string]*coupon.Coupon // by id
	userUses     map[string]int            // couponID -> uses for the test user
	incrementErr error
	userUsesErr  error

	increments int
	decrements int
}

func newMockRepo(cs ...*coupon.Coupon) *mockCouponRepo {
	m := &mockCouponRepo{
		coupons:  make(map[string]*coupon.Coupon),
		userUses: make(map[string]int),
	}
	for _, c := range cs {
		m.coupons[c.ID] = c
	}
	return m
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	for _, c := range m.coupons {
		if c.Code == coupon.CanonicalCode(code) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (m *mockCouponRepo) FindByID(_ context.Context, id string) (*coupon.Coupon, error) {
	c, ok := m.coupons[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) ListActive(context.Context) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, c := range m.coupons {
		if c.Active {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockCouponRepo) ListExpired(context.Context) ([]coupon.Coupon, error) {
	return nil, nil
}

func (m *mockCouponRepo) IncrementUses(_ context.Context, couponID, _ string) error {
	if m.incrementErr != nil {
		return m.incrementErr
	}
	c, ok := m.coupons[couponID]
	if !ok {
		return coupon.ErrNotFound
	}
	c.Uses++
	m.userUses[couponID]++
	m.increments++
	return nil
}

func (m *mockCouponRepo) DecrementUses(_ context.Context, couponID, _ string) error {
	c, ok := m.coupons[couponID]
	if !ok {
		return coupon.ErrNotFound
	}
	if c.Uses > 0 {
		c.Uses--
	}
	if m.userUses[couponID] > 0 {
		m.userUses[couponID]--
	}
	m.decrements++
	return nil
}

func (m *mockCouponRepo) UserUses(_ context.Context, couponID, _ string) (int, error) {
	if m.userUsesErr != nil {
		return 0, m.userUsesErr
	}
	return m.userUses[couponID], nil
}

func activeRows() []cart.BagRow {
	return []cart.BagRow{
		{ProductID: "p1", Quantity: 2, Resolved: true, Price: d("24.00"), Category: "apparel"},
		{ProductID: "p2", Quantity: 1, Resolved: true, Price: d("79.99"), Category: "shoes"},
	}
}

func saveCoupon() *coupon.Coupon {
	return &coupon.Coupon{
		ID:           "c-save20",
		Code:         "SAVE20",
		DiscountType: coupon.DiscountPercentage,
		Value:        d("20"),
		Threshold:    d("100"),
		Active:       true,
	}
}

func TestApply_Success(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()} // total 127.99
	repo := newMockRepo(saveCoupon())
	svc := NewService(bags, repo, nil)

	res, err := svc.Apply(context.Background(), "u1", "save20")

	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "c-save20", res.CouponID)
	assert.Equal(t, "SAVE20", res.CouponCode)
	assert.True(t, d("26").Equal(res.DiscountAmount), "20%% of 127.99 rounded: got %s", res.DiscountAmount)
	assert.True(t, d("127.99").Equal(res.CartTotal))
	assert.True(t, d("101.99").Equal(res.NewTotal))
	assert.False(t, res.Cashback)

	assert.Equal(t, 1, bags.setCalls, "rows stamped once")
	assert.Equal(t, 1, repo.increments, "usage counted once")
	assert.Equal(t, "c-save20", cart.AppliedCouponID(bags.rows))
}

func TestApply_BlankCode(t *testing.T) {
	svc := NewService(&mockBagStore{rows: activeRows()}, newMockRepo(), nil)

	res, err := svc.Apply(context.Background(), "u1", "   ")

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgCodeRequired, res.Message)
}

func TestApply_EmptyBag(t *testing.T) {
	svc := NewService(&mockBagStore{}, newMockRepo(saveCoupon()), nil)

	res, err := svc.Apply(context.Background(), "u1", "SAVE20")

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgEmptyBag, res.Message)
}

func TestApply_UnknownCode(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	svc := NewService(bags, newMockRepo(), nil)

	res, err := svc.Apply(context.Background(), "u1", "NOPE")

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgUnknownCode, res.Message)
	assert.Equal(t, []string{MsgUnknownCode}, res.Errors)
}

func TestApply_ConflictWhenAlreadyApplied(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon(), &coupon.Coupon{
		ID: "c-other", Code: "OTHER", DiscountType: coupon.DiscountFixed, Value: d("5"), Active: true,
	})
	svc := NewService(bags, repo, nil)

	first, err := svc.Apply(context.Background(), "u1", "SAVE20")
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := svc.Apply(context.Background(), "u1", "OTHER")

	require.NoError(t, err, "a conflict is a failure result, not an error")
	assert.False(t, second.Success)
	assert.Equal(t, MsgAlreadyApplied, second.Message)
	assert.Equal(t, "c-save20", cart.AppliedCouponID(bags.rows), "first coupon stays applied")
	assert.Equal(t, 1, repo.increments, "conflicting attempt counts no usage")
}

func TestApply_InvalidCouponCollectsReasons(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()} // total 127.99
	c := saveCoupon()
	c.Threshold = d("200")
	c.Active = false
	svc := NewService(bags, newMockRepo(c), nil)

	res, err := svc.Apply(context.Background(), "u1", "SAVE20")

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, coupon.ReasonInactive, res.Message)
	assert.Equal(t, 0, bags.setCalls, "invalid coupon writes nothing")
}

func TestApply_IncrementFailureRollsBackRows(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon())
	repo.incrementErr = errors.New("db down")
	svc := NewService(bags, repo, nil)

	_, err := svc.Apply(context.Background(), "u1", "SAVE20")

	require.Error(t, err)
	assert.Equal(t, "", cart.AppliedCouponID(bags.rows), "no partial application survives")
}

func TestRemove_ClearsAndDecrements(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon())
	svc := NewService(bags, repo, nil)

	_, err := svc.Apply(context.Background(), "u1", "SAVE20")
	require.NoError(t, err)

	res, err := svc.Remove(context.Background(), "u1")

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.DiscountAmount.IsZero())
	assert.Equal(t, "", cart.AppliedCouponID(bags.rows))
	assert.Equal(t, 1, repo.decrements)
	assert.Equal(t, 0, repo.coupons["c-save20"].Uses, "apply then remove conserves the counter")
}

func TestRemove_NothingAppliedIsNoOp(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon())
	svc := NewService(bags, repo, nil)

	for i := 0; i < 2; i++ {
		res, err := svc.Remove(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.True(t, res.DiscountAmount.IsZero())
	}
	assert.Equal(t, 0, repo.decrements, "no-op removes never touch the counter")
	assert.Equal(t, 0, bags.clearCalls)
}

func TestRevalidate_StillValidKeepsCoupon(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon())
	svc := NewService(bags, repo, nil)

	_, err := svc.Apply(context.Background(), "u1", "SAVE20")
	require.NoError(t, err)

	res, err := svc.Revalidate(context.Background(), "u1")

	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.ShouldRemove)
	assert.True(t, d("26").Equal(res.NewDiscount))
	assert.Equal(t, "c-save20", cart.AppliedCouponID(bags.rows))
}

func TestRevalidate_BelowThresholdClearsCoupon(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon())
	svc := NewService(bags, repo, nil)

	_, err := svc.Apply(context.Background(), "u1", "SAVE20")
	require.NoError(t, err)

	// The user drops the shoes; the remaining 48.00 misses the 100 threshold.
	bags.rows = bags.rows[:1]

	res, err := svc.Revalidate(context.Background(), "u1")

	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.ShouldRemove)
	assert.Equal(t, "add 52 more to use this coupon", res.Reason)
	assert.True(t, res.NewDiscount.IsZero())
	assert.Equal(t, "", cart.AppliedCouponID(bags.rows))
	assert.Equal(t, 1, repo.decrements, "invalidation returns the usage")
}

func TestRevalidate_DiscountChangeRewritesRows(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon())
	svc := NewService(bags, repo, nil)

	_, err := svc.Apply(context.Background(), "u1", "SAVE20")
	require.NoError(t, err)

	// Add another pair of shoes: the cart grows, so does the discount.
	bags.rows = append(bags.rows, cart.BagRow{
		ProductID: "p3", Quantity: 1, Resolved: true, Price: d("119.50"), Category: "shoes",
		AppliedCouponID: "c-save20", DiscountAmount: d("26"),
	})

	res, err := svc.Revalidate(context.Background(), "u1")

	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.True(t, d("49").Equal(res.NewDiscount), "20%% of 247.49 rounded: got %s", res.NewDiscount)
	assert.Equal(t, 2, bags.setCalls, "rows rewritten with the new amount")
}

func TestRevalidate_NothingApplied(t *testing.T) {
	svc := NewService(&mockBagStore{rows: activeRows()}, newMockRepo(), nil)

	res, err := svc.Revalidate(context.Background(), "u1")

	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.ShouldRemove, "nothing to remove")
	assert.Equal(t, MsgNothingApplied, res.Reason)
}

func TestRevalidate_VanishedCouponIsCleared(t *testing.T) {
	rows := activeRows()
	for i := range rows {
		rows[i].AppliedCouponID = "c-gone"
		rows[i].DiscountAmount = d("10")
	}
	bags := &mockBagStore{rows: rows}
	svc := NewService(bags, newMockRepo(), nil)

	res, err := svc.Revalidate(context.Background(), "u1")

	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.ShouldRemove)
	assert.Equal(t, "", cart.AppliedCouponID(bags.rows))
}

func TestRevalidate_OwnUsageDoesNotInvalidate(t *testing.T) {
	c := saveCoupon()
	c.UsageLimit = 1
	c.UsageLimitPerUser = 1
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(c)
	svc := NewService(bags, repo, nil)

	_, err := svc.Apply(context.Background(), "u1", "SAVE20")
	require.NoError(t, err)

	res, err := svc.Revalidate(context.Background(), "u1")

	require.NoError(t, err)
	assert.True(t, res.Valid, "the applied use itself must not trip the limits")
}

func TestAvailable_EvaluatesEachCoupon(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()} // total 127.99
	repo := newMockRepo(
		saveCoupon(),
		&coupon.Coupon{ID: "c-big", Code: "BIGSPEND", DiscountType: coupon.DiscountFixed,
			Value: d("50"), Threshold: d("500"), Active: true},
	)
	svc := NewService(bags, repo, nil)

	res, err := svc.Available(context.Background(), "u1")

	require.NoError(t, err)
	require.Len(t, res.Available, 2)
	assert.True(t, d("127.99").Equal(res.CartTotal))

	byCode := make(map[string]CouponStatus)
	for _, cs := range res.Available {
		byCode[cs.Coupon.Code] = cs
	}
	assert.True(t, byCode["SAVE20"].Applicable)
	assert.False(t, byCode["BIGSPEND"].Applicable)
	assert.Equal(t, "add 372.01 more to use this coupon", byCode["BIGSPEND"].Reason)
}

func TestAvailable_UserUsesFailureDegrades(t *testing.T) {
	c := saveCoupon()
	c.UsageLimitPerUser = 1
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(c)
	repo.userUsesErr = errors.New("db down")
	svc := NewService(bags, repo, nil)

	res, err := svc.Available(context.Background(), "u1")

	require.NoError(t, err)
	require.Len(t, res.Available, 1, "the coupon is listed, not dropped")
	assert.False(t, res.Available[0].Applicable)
	assert.Equal(t, coupon.ReasonUnavailable, res.Available[0].Reason)
}

func TestThresholdSuggestion(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()} // total 127.99
	repo := newMockRepo(
		&coupon.Coupon{ID: "c-150", Code: "AT150", DiscountType: coupon.DiscountFixed,
			Value: d("20"), Threshold: d("150"), Active: true},
		saveCoupon(), // threshold already met
	)
	svc := NewService(bags, repo, nil)

	res, err := svc.ThresholdSuggestion(context.Background(), "u1")

	require.NoError(t, err)
	require.NotNil(t, res.Suggestion)
	assert.Equal(t, "AT150", res.Suggestion.Coupon.Code)
	assert.True(t, d("22.01").Equal(res.Suggestion.AmountNeeded))
	assert.True(t, d("20").Equal(res.Suggestion.PotentialSavings))
}

func TestPreview_DoesNotMutate(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon())
	svc := NewService(bags, repo, nil)

	st := cart.State{Total: d("150")}
	res, err := svc.Preview(context.Background(), "u1", "save20", st)

	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "SAVE20", res.CouponCode)
	assert.True(t, d("30").Equal(res.DiscountAmount))

	assert.Equal(t, 0, bags.setCalls)
	assert.Equal(t, 0, repo.increments, "preview touches no state")
}

func TestPreview_InvalidAndUnknown(t *testing.T) {
	svc := NewService(&mockBagStore{}, newMockRepo(saveCoupon()), nil)

	res, err := svc.Preview(context.Background(), "u1", "NOPE", cart.State{Total: d("150")})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, MsgUnknownCode, res.Message)

	res, err = svc.Preview(context.Background(), "u1", "SAVE20", cart.State{Total: d("50")})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "add 50 more to use this coupon", res.Message)
}

func TestApply_ShippingCouponUsesFee(t *testing.T) {
	ship := &coupon.Coupon{
		ID: "c-ship", Code: "FREESHIP", DiscountType: coupon.DiscountShipping,
		Threshold: d("40"), Active: true,
	}
	bags := &mockBagStore{rows: activeRows()}
	svc := NewService(bags, newMockRepo(ship), fixedShipping{fee: d("7.99")})

	res, err := svc.Apply(context.Background(), "u1", "FREESHIP")

	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, d("7.99").Equal(res.DiscountAmount))
}

type fixedShipping struct {
	fee decimal.Decimal
}

func (f fixedShipping) Fee(context.Context, string) (decimal.Decimal, error) {
	return f.fee, nil
}

func TestUsageConservation(t *testing.T) {
	bags := &mockBagStore{rows: activeRows()}
	repo := newMockRepo(saveCoupon())
	svc := NewService(bags, repo, nil)

	for i := 0; i < 3; i++ {
		applyRes, err := svc.Apply(context.Background(), "u1", "SAVE20")
		require.NoError(t, err)
		require.True(t, applyRes.Success, "cycle %d", i)

		_, err = svc.Remove(context.Background(), "u1")
		require.NoError(t, err)
	}

	assert.Equal(t, 0, repo.coupons["c-save20"].Uses, "apply/remove cycles net to zero")
}

package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-promo/internal/domain/coupon"
)

const seedJSON = `[
	{
		"id": "c-save20",
		"code": "save20",
		"description": "20% off",
		"discount_type": "percentage",
		"value": 20,
		"threshold": 100,
		"max_discount": 50,
		"active": true,
		"priority": 10,
		"usage_limit_per_user": 3
	},
	{
		"id": "c-old",
		"code": "OLDDEAL",
		"discount_type": "fixed",
		"value": 5,
		"valid_upto": "2020-01-01T00:00:00Z",
		"active": true
	}
]`

func mustLoad(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load([]byte(seedJSON))
	require.NoError(t, err)
	return c
}

func TestLoad_RejectsBadSeeds(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "invalid json", data: `{not json`},
		{name: "missing id", data: `[{"code":"X","discount_type":"fixed"}]`},
		{name: "missing code", data: `[{"id":"c1","discount_type":"fixed"}]`},
		{name: "duplicate code", data: `[
			{"id":"c1","code":"DUP","discount_type":"fixed"},
			{"id":"c2","code":"dup","discount_type":"fixed"}
		]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestCatalog_FindByCode_CaseInsensitive(t *testing.T) {
	c := mustLoad(t)

	for _, code := range []string{"SAVE20", "save20", "  Save20 "} {
		got, err := c.FindByCode(context.Background(), code)
		require.NoError(t, err, "code %q", code)
		assert.Equal(t, "c-save20", got.ID)
		assert.Equal(t, "SAVE20", got.Code, "stored code is canonical")
	}

	_, err := c.FindByCode(context.Background(), "MISSING")
	assert.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestCatalog_FindReturnsCopies(t *testing.T) {
	c := mustLoad(t)

	first, err := c.FindByID(context.Background(), "c-save20")
	require.NoError(t, err)
	first.Description = "mutated"

	second, err := c.FindByID(context.Background(), "c-save20")
	require.NoError(t, err)
	assert.Equal(t, "20% off", second.Description, "callers get copies, not the entry")
}

func TestCatalog_Listings(t *testing.T) {
	c := mustLoad(t)

	active, err := c.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "SAVE20", active[0].Code)

	expired, err := c.ListExpired(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "OLDDEAL", expired[0].Code)
}

func TestCatalog_UsageCounters(t *testing.T) {
	c := mustLoad(t)
	ctx := context.Background()

	require.NoError(t, c.IncrementUses(ctx, "c-save20", "u1"))
	require.NoError(t, c.IncrementUses(ctx, "c-save20", "u1"))
	require.NoError(t, c.IncrementUses(ctx, "c-save20", "u2"))

	uses, err := c.UserUses(ctx, "c-save20", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, uses)

	got, err := c.FindByID(ctx, "c-save20")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Uses)

	require.NoError(t, c.DecrementUses(ctx, "c-save20", "u1"))
	uses, err = c.UserUses(ctx, "c-save20", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, uses)

	assert.ErrorIs(t, c.IncrementUses(ctx, "nope", "u1"), coupon.ErrNotFound)
	assert.ErrorIs(t, c.DecrementUses(ctx, "nope", "u1"), coupon.ErrNotFound)
}

func TestCatalog_DecrementFloorsAtZero(t *testing.T) {
	c := mustLoad(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.DecrementUses(ctx, "c-save20", "u1"))
	}

	got, err := c.FindByID(ctx, "c-save20")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Uses)

	uses, err := c.UserUses(ctx, "c-save20", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, uses)
}

func TestCatalog_ConcurrentIncrements(t *testing.T) {
	c := mustLoad(t)
	ctx := context.Background()

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_ = c.IncrementUses(ctx, "c-save20", "u1")
			}
		}()
	}
	wg.Wait()

	got, err := c.FindByID(ctx, "c-save20")
	require.NoError(t, err)
	assert.Equal(t, goroutines*perGoroutine, got.Uses, "no increments lost under contention")

	uses, err := c.UserUses(ctx, "c-save20", "u1")
	require.NoError(t, err)
	assert.Equal(t, goroutines*perGoroutine, uses)
}

func TestCatalog_NotYetOpenCouponIsActive(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	data := `[{"id":"c-soon","code":"SOON","discount_type":"fixed","value":5,"active":true,
		"valid_from":"` + future + `"}]`

	c, err := Load([]byte(data))
	require.NoError(t, err)

	active, err := c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1, "not-yet-open coupons stay listed; the validator reports the window")
}

package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_ReadyGate(t *testing.T) {
	h := New()

	assert.False(t, h.IsReady(), "fresh instance is not ready")
	h.SetReady(true)
	assert.True(t, h.IsReady())
	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestHealth_FailureThreshold(t *testing.T) {
	c := newCheck("flaky", time.Second, func(context.Context) error {
		return errors.New("down")
	})

	c.run(context.Background())
	c.run(context.Background())
	assert.True(t, c.healthy.Load(), "two failures are below the threshold")

	c.run(context.Background())
	assert.False(t, c.healthy.Load(), "third consecutive failure marks unhealthy")
}

func TestHealth_RecoversOnFirstSuccess(t *testing.T) {
	fail := true
	c := newCheck("db", time.Second, func(context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})
	for i := 0; i < failureThreshold; i++ {
		c.run(context.Background())
	}
	require.False(t, c.healthy.Load())

	fail = false
	c.run(context.Background())
	assert.True(t, c.healthy.Load())
}

func TestHealth_ReadyEndpointReportsFailures(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})
	for i := 0; i < failureThreshold; i++ {
		h.readiness[0].run(context.Background())
	}
	h.SetReady(true)

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"postgres":"connection refused"}}`, w.Body.String())
	assert.False(t, h.IsReady())
}

func TestHealth_LiveEndpointOK(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(100000))
	h.liveness[0].run(context.Background())

	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

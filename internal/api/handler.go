// Package api exposes the coupon engine over HTTP: apply/remove/revalidate
// for a user's bag plus coupon listings, threshold suggestions, and the
// stateless validate call.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-promo/internal/domain/cart"
	"github.com/xenking/kart-promo/internal/domain/promo"
)

// PromoService is the slice of the promo service the handlers need.
type PromoService interface {
	Apply(ctx context.Context, userID, code string) (*promo.ApplyResult, error)
	Remove(ctx context.Context, userID string) (*promo.RemoveResult, error)
	Revalidate(ctx context.Context, userID string) (*promo.RevalidateResult, error)
	Available(ctx context.Context, userID string) (*promo.AvailableResult, error)
	ThresholdSuggestion(ctx context.Context, userID string) (*promo.SuggestionResult, error)
	Preview(ctx context.Context, userID, code string, st cart.State) (*promo.PreviewResult, error)
}

// Handler wires the promo service to HTTP routes.
type Handler struct {
	promo PromoService
}

// NewHandler constructs a Handler with the required service dependency.
func NewHandler(promo PromoService) *Handler {
	return &Handler{promo: promo}
}

// Routes returns the coupon API router, intended to be mounted under a
// versioned prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Post("/coupon", h.applyCoupon)
		r.Delete("/coupon", h.removeCoupon)
		r.Post("/coupon/revalidate", h.revalidateCoupon)
		r.Get("/coupons", h.availableCoupons)
		r.Get("/coupons/suggestion", h.thresholdSuggestion)
	})
	r.Post("/coupons/validate", h.validateCoupon)
	return r
}

func userID(r *http.Request) string {
	return chi.URLParam(r, "userID")
}

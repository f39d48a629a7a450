package api

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promo/internal/domain/cart"
	"github.com/xenking/kart-promo/internal/domain/coupon"
	"github.com/xenking/kart-promo/internal/domain/promo"
)

const maxBodyBytes = 1 << 16

// applyCoupon handles POST /users/{userID}/coupon. Business failures come
// back as 200 with success=false; only storage trouble is a 500.
func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeErrorJSON(w, http.StatusBadRequest, "user id required")
		return
	}

	code, err := decodeApplyRequest(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.promo.Apply(r.Context(), uid, code)
	if err != nil {
		internalError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(res.Success)
	if res.Success {
		e.FieldStart("couponId")
		e.Str(res.CouponID)
		e.FieldStart("couponCode")
		e.Str(res.CouponCode)
		e.FieldStart("discountAmount")
		encodeAmount(&e, res.DiscountAmount)
		e.FieldStart("cartTotal")
		encodeAmount(&e, res.CartTotal)
		e.FieldStart("newTotal")
		encodeAmount(&e, res.NewTotal)
		e.FieldStart("cashback")
		e.Bool(res.Cashback)
	} else {
		e.FieldStart("message")
		e.Str(res.Message)
		e.FieldStart("errors")
		encodeStrings(&e, res.Errors)
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// removeCoupon handles DELETE /users/{userID}/coupon. Removing with nothing
// applied is a success with a zero discount.
func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeErrorJSON(w, http.StatusBadRequest, "user id required")
		return
	}

	res, err := h.promo.Remove(r.Context(), uid)
	if err != nil {
		internalError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(res.Success)
	e.FieldStart("discountAmount")
	encodeAmount(&e, res.DiscountAmount)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// revalidateCoupon handles POST /users/{userID}/coupon/revalidate, invoked
// by clients whenever cart composition changes.
func (h *Handler) revalidateCoupon(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeErrorJSON(w, http.StatusBadRequest, "user id required")
		return
	}

	res, err := h.promo.Revalidate(r.Context(), uid)
	if err != nil {
		internalError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("isValid")
	e.Bool(res.Valid)
	e.FieldStart("shouldRemove")
	e.Bool(res.ShouldRemove)
	if res.Reason != "" {
		e.FieldStart("reason")
		e.Str(res.Reason)
	}
	e.FieldStart("newDiscount")
	encodeAmount(&e, res.NewDiscount)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// availableCoupons handles GET /users/{userID}/coupons.
func (h *Handler) availableCoupons(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeErrorJSON(w, http.StatusBadRequest, "user id required")
		return
	}

	res, err := h.promo.Available(r.Context(), uid)
	if err != nil {
		internalError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("cartTotal")
	encodeAmount(&e, res.CartTotal)
	e.FieldStart("availableCoupons")
	e.ArrStart()
	for i := range res.Available {
		encodeCouponStatus(&e, &res.Available[i])
	}
	e.ArrEnd()
	e.FieldStart("expiredCoupons")
	e.ArrStart()
	for i := range res.Expired {
		encodeCoupon(&e, &res.Expired[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// thresholdSuggestion handles GET /users/{userID}/coupons/suggestion.
func (h *Handler) thresholdSuggestion(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeErrorJSON(w, http.StatusBadRequest, "user id required")
		return
	}

	res, err := h.promo.ThresholdSuggestion(r.Context(), uid)
	if err != nil {
		internalError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("cartTotal")
	encodeAmount(&e, res.CartTotal)
	e.FieldStart("suggestion")
	if res.Suggestion == nil {
		e.Null()
	} else {
		sg := res.Suggestion
		e.ObjStart()
		e.FieldStart("coupon")
		encodeCoupon(&e, &sg.Coupon)
		e.FieldStart("amountNeeded")
		encodeAmount(&e, sg.AmountNeeded)
		e.FieldStart("potentialSavings")
		encodeAmount(&e, sg.PotentialSavings)
		e.ObjEnd()
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// validateCoupon handles POST /coupons/validate: the stateless
// find-and-validate call against a caller-supplied cart.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	req, err := decodeValidateRequest(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.promo.Preview(r.Context(), req.userID, req.code, req.state)
	if err != nil {
		internalError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("isValid")
	e.Bool(res.Valid)
	if res.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(res.CouponCode)
	}
	e.FieldStart("discountAmount")
	encodeAmount(&e, res.DiscountAmount)
	if !res.Valid {
		e.FieldStart("message")
		e.Str(res.Message)
		e.FieldStart("errors")
		encodeStrings(&e, res.Errors)
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func encodeCouponStatus(e *jx.Encoder, cs *promo.CouponStatus) {
	e.ObjStart()
	e.FieldStart("coupon")
	encodeCoupon(e, &cs.Coupon)
	e.FieldStart("isApplicable")
	e.Bool(cs.Applicable)
	if cs.Reason != "" {
		e.FieldStart("reason")
		e.Str(cs.Reason)
	}
	e.FieldStart("discountAmount")
	encodeAmount(e, cs.Discount)
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discount")
	encodeAmount(e, c.Value)
	e.FieldStart("threshold")
	encodeAmount(e, c.Threshold)
	if c.MaxDiscount.IsPositive() {
		e.FieldStart("maxDiscount")
		encodeAmount(e, c.MaxDiscount)
	}
	if c.ValidUpto != nil {
		e.FieldStart("validUpto")
		e.Str(c.ValidUpto.Format("2006-01-02T15:04:05Z07:00"))
	}
	e.FieldStart("priority")
	e.Int(c.Priority)
	e.ObjEnd()
}

// decodeApplyRequest reads {"code": "..."} from the body.
func decodeApplyRequest(r *http.Request) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}

	var code string
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		v, err := d.Str()
		code = v
		return err
	}); err != nil {
		return "", err
	}
	return code, nil
}

type validateRequest struct {
	code   string
	userID string
	state  cart.State
}

// decodeValidateRequest reads the legacy validation payload:
// {"code","userId","cartTotal","cartItems":[{"id","price","quantity","category"}]}.
// When cartTotal is omitted it is derived from the items.
func decodeValidateRequest(r *http.Request) (validateRequest, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return validateRequest{}, err
	}

	var (
		req      validateRequest
		hasTotal bool
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			req.code = v
			return err
		case "userId":
			v, err := d.Str()
			req.userID = v
			return err
		case "cartTotal":
			v, err := d.Float64()
			if err != nil {
				return err
			}
			req.state.Total = decimal.NewFromFloat(v)
			hasTotal = true
			return nil
		case "cartItems":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeCartItem(d)
				if err != nil {
					return err
				}
				req.state.Items = append(req.state.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return validateRequest{}, err
	}

	if !hasTotal {
		total := decimal.Zero
		for _, item := range req.state.Items {
			total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		req.state.Total = total
	}
	return req, nil
}

func decodeCartItem(d *jx.Decoder) (cart.Item, error) {
	var item cart.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			item.ProductID = v
			return err
		case "price":
			v, err := d.Float64()
			item.Price = decimal.NewFromFloat(v)
			return err
		case "quantity":
			v, err := d.Int()
			item.Quantity = v
			return err
		case "category":
			v, err := d.Str()
			item.Category = v
			return err
		default:
			return d.Skip()
		}
	})
	return item, err
}

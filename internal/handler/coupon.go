package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

type validateProduct struct {
	ID       string          `json:"_id" validate:"required,max=64"`
	Category string          `json:"category" validate:"max=64"`
	Quantity int             `json:"quantity" validate:"min=1"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
}

type validateRequest struct {
	Code        string            `json:"code" validate:"required,max=64"`
	OrderAmount decimal.Decimal   `json:"orderAmount" validate:"gte=0"`
	Products    []validateProduct `json:"products" validate:"dive"`
	UserID      string            `json:"userId" validate:"max=128"`
}

// ValidateCoupon previews a coupon against a cart. A rejected coupon is a
// regular answer: 200 with success=false, the reason code and a message.
// Clients post their cart products as they hold them, so fields the preview
// does not need are ignored.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSONLoose(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()

	items := make([]coupon.Item, len(req.Products))
	for i, p := range req.Products {
		items[i] = coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Quantity:  p.Quantity,
			Price:     p.Price,
		}
	}
	c, d, err := h.coupons.EvaluateAndCalculate(ctx, coupon.Request{
		Code:        req.Code,
		OrderAmount: req.OrderAmount,
		Items:       items,
		UserID:      req.UserID,
	})
	var rejected *coupon.ValidationError
	if err != nil && !errors.As(err, &rejected) {
		h.fail(w, r, err)
		return
	}
	h.recordAttempt(ctx, req.Code, req.UserID, rejected)

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		boolField(e, "success", rejected == nil)
		if rejected != nil {
			strField(e, "reason", string(rejected.Code))
			strField(e, "message", rejected.Message)
		} else {
			strField(e, "message", "coupon applied")
			e.FieldStart("coupon")
			encodeCouponPreview(e, c, d)
		}
		e.ObjEnd()
	})
}

// recordAttempt counts the validation and appends it to the attempt log.
// Logging is best effort and never fails the request.
func (h *Handler) recordAttempt(ctx context.Context, code, userID string, rejected *coupon.ValidationError) {
	result, reason := "valid", coupon.Code("")
	if rejected != nil {
		result, reason = "invalid", rejected.Code
	}
	h.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("reason", string(reason)),
	))

	if h.attempts == nil {
		return
	}
	if err := h.attempts.LogAttempt(ctx, coupon.Attempt{
		Code:   code,
		UserID: userID,
		Valid:  rejected == nil,
		Reason: reason,
		At:     h.now(),
	}); err != nil {
		zctx.From(ctx).Warn("Log validation attempt", zap.Error(err))
	}
}

type availableRequest struct {
	UserID      string          `json:"userId" validate:"max=128"`
	OrderAmount decimal.Decimal `json:"orderAmount" validate:"gte=0"`
}

// AvailableCoupons lists the coupons the user can apply right now, best
// first.
func (h *Handler) AvailableCoupons(w http.ResponseWriter, r *http.Request) {
	var req availableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	offers, err := h.coupons.Available(r.Context(), req.UserID, req.OrderAmount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		boolField(e, "success", true)
		e.FieldStart("coupons")
		e.ArrStart()
		for i := range offers {
			encodeCouponPreview(e, &offers[i].Coupon, offers[i].Discount)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// CouponAnalytics returns usage analytics of a coupon.
func (h *Handler) CouponAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.analytics.Compute(r.Context(), chi.URLParam(r, "couponID"))
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			httpmiddleware.WriteError(w, http.StatusNotFound, coupon.ErrNotFound.Message, string(coupon.CodeNotFound))
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeAnalytics(e, a)
	})
}

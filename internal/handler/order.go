package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
)

type placeOrderRequest struct {
	UserID     string        `json:"userId" validate:"max=128"`
	CouponCode string        `json:"couponCode" validate:"max=64"`
	Items      []itemRequest `json:"items" validate:"dive"`
}

type reconcileRequest struct {
	Items []itemRequest `json:"items" validate:"dive"`
}

func toItemRequests(items []itemRequest) []order.ItemRequest {
	out := make([]order.ItemRequest, len(items))
	for i, it := range items {
		out[i] = order.ItemRequest{
			ProductID: it.ProductID,
			Size:      it.Size,
			Quantity:  it.Quantity,
		}
	}
	return out
}

// PlaceOrder prices the cart, reserves stock and stores a pending order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		UserID:     req.UserID,
		Items:      toItemRequests(req.Items),
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		h.encodeOrder(e, res.Order)
		e.FieldStart("products")
		e.ArrStart()
		for i := range res.Products {
			h.encodeProduct(e, &res.Products[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// GetOrder returns an order for tracking.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeOrder(e, o)
	})
}

// CompleteOrder is the payment confirmation callback.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.orders.CompleteOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		h.encodeOrder(e, res.Order)
		boolField(e, "usageRecorded", res.UsageRecorded)
		e.ObjEnd()
	})
}

// CancelOrder cancels a pending order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeOrder(e, o)
	})
}

// ReconcileCart annotates cart lines with live stock without blocking.
func (h *Handler) ReconcileCart(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.orders.ReconcileCart(r.Context(), toItemRequests(req.Items))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range items {
			encodeReconciled(e, it)
		}
		e.ArrEnd()
		boolField(e, "canCheckout", !cart.Blocking(items))
		e.ObjEnd()
	})
}

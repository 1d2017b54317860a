// Package handler implements the storefront HTTP API on top of chi.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Coupons evaluates coupons against carts.
type Coupons interface {
	EvaluateAndCalculate(ctx context.Context, req coupon.Request) (*coupon.Coupon, coupon.Discount, error)
	Available(ctx context.Context, userID string, orderAmount decimal.Decimal) ([]coupon.Offer, error)
}

// AttemptRecorder stores coupon validation attempts.
type AttemptRecorder interface {
	LogAttempt(ctx context.Context, a coupon.Attempt) error
}

// Analytics computes coupon analytics.
type Analytics interface {
	Compute(ctx context.Context, couponID string) (coupon.CouponAnalytics, error)
}

// Orders places and tracks orders.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	CompleteOrder(ctx context.Context, id string) (*order.CompleteResult, error)
	CancelOrder(ctx context.Context, id string) (*order.Order, error)
	ReconcileCart(ctx context.Context, items []order.ItemRequest) ([]cart.ReconciledItem, error)
}

// Authenticator resolves API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	ImageBaseURL string
	// Currency is echoed on order responses.
	Currency string
}

// Options holds the Handler dependencies.
type Options struct {
	Config        Config
	Products      product.Repository
	Coupons       Coupons
	Attempts      AttemptRecorder
	Analytics     Analytics
	Orders        Orders
	Auth          Authenticator
	MeterProvider metric.MeterProvider
}

// Handler serves the storefront API.
type Handler struct {
	cfg       Config
	products  product.Repository
	coupons   Coupons
	attempts  AttemptRecorder
	analytics Analytics
	orders    Orders
	auth      Authenticator
	now       func() time.Time

	validations metric.Int64Counter
}

// New creates a Handler.
func New(opts Options) (*Handler, error) {
	mp := opts.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	validations, err := mp.Meter("storefront/handler").Int64Counter("coupon.validation.attempts",
		metric.WithDescription("Coupon validation requests by result and reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validation counter")
	}

	return &Handler{
		cfg:         opts.Config,
		products:    opts.Products,
		coupons:     opts.Coupons,
		attempts:    opts.Attempts,
		analytics:   opts.Analytics,
		orders:      opts.Orders,
		auth:        opts.Auth,
		now:         time.Now,
		validations: validations,
	}, nil
}

// Router mounts the API under /api. Middlewares run after routing has
// started, so RoutePattern is available to them once the handler returns.
func (h *Handler) Router(middlewares ...httpmiddleware.Middleware) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{productID}", h.GetProduct)

		r.Post("/coupon/validate", h.ValidateCoupon)
		r.Post("/coupon/available", h.AvailableCoupons)
		r.Post("/cart/reconcile", h.ReconcileCart)

		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Group(func(r chi.Router) {
			r.Use(h.RequireScope(auth.ScopeOrders))
			r.Post("/orders/{orderID}/complete", h.CompleteOrder)
			r.Post("/orders/{orderID}/cancel", h.CancelOrder)
		})

		r.With(h.RequireScope(auth.ScopeAnalytics)).
			Get("/admin/coupons/{couponID}/analytics", h.CouponAnalytics)
	})
	return r
}

// RoutePattern returns the chi route pattern matched for r.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

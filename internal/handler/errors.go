package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// fail maps a domain error to the error envelope. Unknown errors are logged
// and hidden behind a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr    *requestError
		qtyErr    *order.InvalidQuantityError
		prodErr   *order.ProductNotFoundError
		stockErr  *cart.StockError
		couponErr *coupon.ValidationError
	)
	switch {
	case errors.As(err, &reqErr):
		httpmiddleware.WriteError(w, http.StatusBadRequest, reqErr.Error(), "")
	case errors.Is(err, order.ErrEmptyItems):
		httpmiddleware.WriteError(w, http.StatusBadRequest, order.ErrEmptyItems.Error(), "")
	case errors.As(err, &qtyErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, qtyErr.Error(), "")
	case errors.As(err, &prodErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, prodErr.Error(), "")
	case errors.As(err, &stockErr):
		httpmiddleware.WriteError(w, http.StatusConflict, stockErr.Error(), stockErr.Code)
	case errors.As(err, &couponErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, couponErr.Message, string(couponErr.Code))
	case errors.Is(err, order.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, order.ErrNotFound.Error(), "")
	case errors.Is(err, product.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, product.ErrNotFound.Error(), "")
	case errors.Is(err, order.ErrNotPayable), errors.Is(err, order.ErrNotCancellable):
		httpmiddleware.WriteError(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, auth.ErrUnauthorized):
		httpmiddleware.WriteError(w, http.StatusUnauthorized, "invalid api key", "")
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}

// Package cart checks requested cart quantities against live inventory.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Stock reconciliation reason codes, shared with the coupon error taxonomy.
const (
	CodeOutOfStock     = "OUT_OF_STOCK"
	CodeExceedsStock   = "EXCEEDS_STOCK"
	CodeUnknownProduct = "UNKNOWN_PRODUCT"
)

// LineItem is a client-held cart line. UnitPrice is the price snapshot taken
// when the cart was rendered.
type LineItem struct {
	ProductID string
	Size      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// ReconciledItem is a LineItem annotated with live stock.
type ReconciledItem struct {
	LineItem
	AvailableStock int
	// RequestedTotal is the quantity of this product and size requested by
	// this line and every earlier line of the cart.
	RequestedTotal int
	OutOfStock     bool
	ExceedsStock   bool
	// Unknown is set when the product is not in the catalog at all.
	Unknown bool
}

// Inventory answers live stock questions.
type Inventory interface {
	// Stock returns the available quantity for a product and size. The size
	// is ignored for sizeless products. ok is false for unknown products.
	Stock(productID, size string) (available int, ok bool)
	// Sized reports whether stock of the product is tracked per size.
	Sized(productID string) bool
}

type stockKey struct {
	productID string
	size      string
}

// Reconcile annotates every item with its available stock. Lines sharing a
// product and size draw from the same stock: the line whose running total
// passes the available quantity, and every later one, exceed it. Items are
// never clamped: violations are flagged and left to the caller's policy.
func Reconcile(items []LineItem, inv Inventory) []ReconciledItem {
	out := make([]ReconciledItem, len(items))
	requested := make(map[stockKey]int, len(items))
	for i, it := range items {
		available, ok := inv.Stock(it.ProductID, it.Size)
		if available < 0 {
			available = 0
		}
		key := stockKey{productID: it.ProductID}
		if inv.Sized(it.ProductID) {
			key.size = it.Size
		}
		requested[key] += it.Quantity

		r := ReconciledItem{
			LineItem:       it,
			AvailableStock: available,
			RequestedTotal: requested[key],
			Unknown:        !ok,
		}
		switch {
		case !ok || available <= 0:
			r.OutOfStock = true
		case r.RequestedTotal > available:
			r.ExceedsStock = true
		}
		out[i] = r
	}
	return out
}

// StockError reports a line item that cannot be fulfilled.
type StockError struct {
	Code      string
	ProductID string
	Size      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	item := e.ProductID
	if e.Size != "" {
		item += " (" + e.Size + ")"
	}
	switch e.Code {
	case CodeUnknownProduct:
		return fmt.Sprintf("product %s not found", item)
	case CodeOutOfStock:
		return fmt.Sprintf("product %s is out of stock", item)
	default:
		return fmt.Sprintf("only %d of product %s available, %d requested", e.Available, item, e.Requested)
	}
}

// Check enforces the checkout policy: any out-of-stock or over-stock item
// blocks the order. The first violation is returned.
func Check(items []ReconciledItem) error {
	for _, it := range items {
		if !it.OutOfStock && !it.ExceedsStock {
			continue
		}
		code := CodeExceedsStock
		switch {
		case it.Unknown:
			code = CodeUnknownProduct
		case it.OutOfStock:
			code = CodeOutOfStock
		}
		return &StockError{
			Code:      code,
			ProductID: it.ProductID,
			Size:      it.Size,
			Requested: max(it.Quantity, it.RequestedTotal),
			Available: it.AvailableStock,
		}
	}
	return nil
}

// Blocking reports whether any item prevents checkout.
func Blocking(items []ReconciledItem) bool {
	return Check(items) != nil
}

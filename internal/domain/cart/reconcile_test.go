package cart

import (
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/product"
)

func testInventory() CatalogInventory {
	return NewCatalogInventory([]product.Product{
		{ID: "p1", Price: decimal.NewFromInt(25), Sizes: map[string]int{"S": 0, "M": 3, "L": 10}},
		{ID: "p2", Price: decimal.NewFromInt(5), Stock: 4},
		{ID: "p3", Price: decimal.NewFromInt(5), Stock: -2},
	})
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		item      LineItem
		available int
		out       bool
		exceeds   bool
		unknown   bool
	}{
		{name: "sized exceeds", item: LineItem{ProductID: "p1", Size: "M", Quantity: 5}, available: 3, exceeds: true},
		{name: "sized fits", item: LineItem{ProductID: "p1", Size: "L", Quantity: 10}, available: 10},
		{name: "sized out of stock", item: LineItem{ProductID: "p1", Size: "S", Quantity: 1}, out: true},
		{name: "unknown size", item: LineItem{ProductID: "p1", Size: "XXL", Quantity: 1}, out: true},
		{name: "sizeless ignores size", item: LineItem{ProductID: "p2", Size: "M", Quantity: 4}, available: 4},
		{name: "sizeless exceeds", item: LineItem{ProductID: "p2", Quantity: 5}, available: 4, exceeds: true},
		{name: "negative stock", item: LineItem{ProductID: "p3", Quantity: 1}, out: true},
		{name: "unknown product", item: LineItem{ProductID: "nope", Quantity: 1}, out: true, unknown: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile([]LineItem{tt.item}, testInventory())
			require.Len(t, got, 1)
			r := got[0]
			assert.Equal(t, tt.item, r.LineItem, "items are never clamped")
			assert.Equal(t, tt.available, r.AvailableStock)
			assert.Equal(t, tt.out, r.OutOfStock)
			assert.Equal(t, tt.exceeds, r.ExceedsStock)
			assert.Equal(t, tt.unknown, r.Unknown)
			assert.False(t, r.OutOfStock && r.ExceedsStock)
		})
	}
}

func TestReconcile_SharedStock(t *testing.T) {
	tests := []struct {
		name    string
		items   []LineItem
		exceeds []bool
		totals  []int
	}{
		{
			name:    "same size adds up",
			items:   []LineItem{{ProductID: "p1", Size: "M", Quantity: 2}, {ProductID: "p1", Size: "M", Quantity: 2}},
			exceeds: []bool{false, true},
			totals:  []int{2, 4},
		},
		{
			name:    "later lines stay flagged",
			items:   []LineItem{{ProductID: "p1", Size: "M", Quantity: 4}, {ProductID: "p1", Size: "M", Quantity: 1}},
			exceeds: []bool{true, true},
			totals:  []int{4, 5},
		},
		{
			name:    "sizes are independent",
			items:   []LineItem{{ProductID: "p1", Size: "M", Quantity: 3}, {ProductID: "p1", Size: "L", Quantity: 10}},
			exceeds: []bool{false, false},
			totals:  []int{3, 10},
		},
		{
			name:    "sizeless ignores size",
			items:   []LineItem{{ProductID: "p2", Size: "M", Quantity: 2}, {ProductID: "p2", Size: "L", Quantity: 3}},
			exceeds: []bool{false, true},
			totals:  []int{2, 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.items, testInventory())
			require.Len(t, got, len(tt.items))
			for i, r := range got {
				assert.Equal(t, tt.items[i], r.LineItem, "items are never clamped")
				assert.Equal(t, tt.exceeds[i], r.ExceedsStock, "line %d", i)
				assert.Equal(t, tt.totals[i], r.RequestedTotal, "line %d", i)
				assert.False(t, r.OutOfStock)
			}
			assert.Equal(t, slices.Contains(tt.exceeds, true), Blocking(got))
		})
	}
}

func TestCheck(t *testing.T) {
	inv := testInventory()

	ok := Reconcile([]LineItem{
		{ProductID: "p1", Size: "M", Quantity: 3},
		{ProductID: "p2", Quantity: 1},
	}, inv)
	require.NoError(t, Check(ok))
	assert.False(t, Blocking(ok))

	tests := []struct {
		name  string
		items []LineItem
		code  string
		msg   string
	}{
		{
			name:  "exceeds",
			items: []LineItem{{ProductID: "p2", Quantity: 1}, {ProductID: "p1", Size: "M", Quantity: 5}},
			code:  CodeExceedsStock,
			msg:   "only 3 of product p1 (M) available, 5 requested",
		},
		{
			name:  "duplicate lines",
			items: []LineItem{{ProductID: "p1", Size: "M", Quantity: 2}, {ProductID: "p1", Size: "M", Quantity: 2}},
			code:  CodeExceedsStock,
			msg:   "only 3 of product p1 (M) available, 4 requested",
		},
		{
			name:  "out of stock",
			items: []LineItem{{ProductID: "p1", Size: "S", Quantity: 1}},
			code:  CodeOutOfStock,
			msg:   "product p1 (S) is out of stock",
		},
		{
			name:  "unknown",
			items: []LineItem{{ProductID: "gone", Quantity: 1}},
			code:  CodeUnknownProduct,
			msg:   "product gone not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := Reconcile(tt.items, inv)
			assert.True(t, Blocking(items))

			var se *StockError
			require.ErrorAs(t, Check(items), &se)
			assert.Equal(t, tt.code, se.Code)
			assert.EqualError(t, se, tt.msg)
		})
	}
}

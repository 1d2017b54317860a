package product

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
//
// Sized products carry stock per size in Sizes; sizeless products use the
// scalar Stock.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	Image    Image
	Sizes    map[string]int
	Stock    int
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// Sized reports whether stock is tracked per size.
func (p *Product) Sized() bool {
	return len(p.Sizes) > 0
}

// Available returns the stock for the given size. The size is ignored for
// sizeless products; an unknown size of a sized product has no stock.
func (p *Product) Available(size string) int {
	if !p.Sized() {
		return p.Stock
	}
	return p.Sizes[size]
}

// SizeNames returns the product's sizes in a stable order.
func (p *Product) SizeNames() []string {
	names := make([]string, 0, len(p.Sizes))
	for s := range p.Sizes {
		names = append(names, s)
	}
	slices.Sort(names)
	return names
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

package cart

import "github.com/xenking/storefront/internal/domain/product"

// CatalogInventory adapts a snapshot of catalog products to Inventory.
type CatalogInventory map[string]product.Product

// NewCatalogInventory indexes products by id.
func NewCatalogInventory(products []product.Product) CatalogInventory {
	inv := make(CatalogInventory, len(products))
	for _, p := range products {
		inv[p.ID] = p
	}
	return inv
}

// Stock implements Inventory.
func (c CatalogInventory) Stock(productID, size string) (int, bool) {
	p, ok := c[productID]
	if !ok {
		return 0, false
	}
	return p.Available(size), true
}

// Sized implements Inventory.
func (c CatalogInventory) Sized(productID string) bool {
	p, ok := c[productID]
	return ok && p.Sized()
}

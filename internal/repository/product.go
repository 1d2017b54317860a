package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	selectProductSQL = `SELECT p.id, p.name, p.price, p.category,
		p.image_thumbnail, p.image_mobile, p.image_tablet, p.image_desktop, p.stock,
		COALESCE(array_agg(s.size ORDER BY s.size) FILTER (WHERE s.size IS NOT NULL), '{}'::text[]),
		COALESCE(array_agg(s.stock ORDER BY s.size) FILTER (WHERE s.size IS NOT NULL), '{}'::int[])
		FROM products p LEFT JOIN product_sizes s ON s.product_id = p.id`

	listProductsSQL = selectProductSQL + ` GROUP BY p.id ORDER BY p.id`

	getProductByIDSQL = selectProductSQL + ` WHERE p.id = $1 GROUP BY p.id`

	getProductsByIDsSQL = selectProductSQL + ` WHERE p.id = ANY($1) GROUP BY p.id`

	upsertProductSQL = `INSERT INTO products (id, name, price, category,
		image_thumbnail, image_mobile, image_tablet, image_desktop, stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			category = EXCLUDED.category, image_thumbnail = EXCLUDED.image_thumbnail,
			image_mobile = EXCLUDED.image_mobile, image_tablet = EXCLUDED.image_tablet,
			image_desktop = EXCLUDED.image_desktop, stock = EXCLUDED.stock`

	upsertProductSizeSQL = `INSERT INTO product_sizes (product_id, size, stock)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, size) DO UPDATE SET stock = EXCLUDED.stock`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs. Unknown IDs are
// skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert writes a product and its per-size stock.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.Category,
			p.Image.Thumbnail, p.Image.Mobile, p.Image.Tablet, p.Image.Desktop, p.Stock,
		); err != nil {
			return fmt.Errorf("upserting product %q: %w", p.ID, err)
		}
		for _, size := range p.SizeNames() {
			if _, err := tx.Exec(ctx, upsertProductSizeSQL, p.ID, size, p.Sizes[size]); err != nil {
				return fmt.Errorf("upserting product %q size %q: %w", p.ID, size, err)
			}
		}
		return nil
	})
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p         product.Product
		sizes     []string
		sizeStock []int32
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Category,
		&p.Image.Thumbnail, &p.Image.Mobile, &p.Image.Tablet, &p.Image.Desktop, &p.Stock,
		&sizes, &sizeStock,
	)
	if err != nil {
		return p, err
	}
	if len(sizes) > 0 {
		p.Sizes = make(map[string]int, len(sizes))
		for i, s := range sizes {
			p.Sizes[s] = int(sizeStock[i])
		}
	}
	return p, nil
}

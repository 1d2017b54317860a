package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, subtotal, discount, shipping_fee, total,
		coupon_id, coupon_code, status, created_at, paid_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, items, subtotal, discount, shipping_fee,
		total, coupon_id, coupon_code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	markOrderPaidSQL = `UPDATE orders SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + orderColumns

	cancelOrderSQL = `UPDATE orders SET status = 'cancelled'
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + orderColumns

	countCompletedOrdersSQL = `SELECT count(*) FROM orders WHERE user_id = $1 AND status = 'paid'`

	reserveSizeStockSQL = `UPDATE product_sizes SET stock = stock - $3
		WHERE product_id = $1 AND size = $2 AND stock >= $3`

	reserveStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
			AND NOT EXISTS (SELECT 1 FROM product_sizes WHERE product_id = $1)`

	releaseSizeStockSQL = `UPDATE product_sizes SET stock = stock + $3
		WHERE product_id = $1 AND size = $2`

	releaseStockSQL = `UPDATE products SET stock = stock + $2
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM product_sizes WHERE product_id = $1)`

	availableStockSQL = `SELECT COALESCE(
		(SELECT stock FROM product_sizes WHERE product_id = $1 AND size = $2),
		CASE WHEN EXISTS (SELECT 1 FROM product_sizes WHERE product_id = $1) THEN 0
			ELSE (SELECT stock FROM products WHERE id = $1) END,
		0)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and reserves stock for each line. The order
// items are serialized to JSON for storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, itemsJSON, o.Subtotal, o.Discount, o.ShippingFee, o.Total,
			nullable(o.CouponID), o.CouponCode, string(o.Status), o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}
		for _, it := range o.Items {
			if err := reserve(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

// reserve decrements stock for one line, per size when the product is sized.
func reserve(ctx context.Context, tx pgx.Tx, it order.OrderItem) error {
	tag, err := tx.Exec(ctx, reserveSizeStockSQL, it.ProductID, it.Size, it.Quantity)
	if err != nil {
		return fmt.Errorf("reserving %q: %w", it.ProductID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	tag, err = tx.Exec(ctx, reserveStockSQL, it.ProductID, it.Quantity)
	if err != nil {
		return fmt.Errorf("reserving %q: %w", it.ProductID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var available int
	if err := tx.QueryRow(ctx, availableStockSQL, it.ProductID, it.Size).Scan(&available); err != nil {
		return fmt.Errorf("reading stock of %q: %w", it.ProductID, err)
	}
	code := cart.CodeExceedsStock
	if available <= 0 {
		code = cart.CodeOutOfStock
	}
	return &cart.StockError{
		Code:      code,
		ProductID: it.ProductID,
		Size:      it.Size,
		Requested: it.Quantity,
		Available: available,
	}
}

// GetByID returns an order by id, or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// MarkPaid transitions a pending order to paid.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time) (*order.Order, bool, error) {
	rows, err := r.pool.Query(ctx, markOrderPaidSQL, id, paidAt)
	if err != nil {
		return nil, false, fmt.Errorf("marking order %q paid: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	switch {
	case err == nil:
		return &o, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("marking order %q paid: %w", id, err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status != order.StatusPaid {
		return nil, false, order.ErrNotPayable
	}
	return current, false, nil
}

// Cancel transitions a pending order to cancelled and returns its stock.
func (r *OrderRepository) Cancel(ctx context.Context, id string) (*order.Order, bool, error) {
	var cancelled *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, cancelOrderSQL, id)
		if err != nil {
			return fmt.Errorf("cancelling order %q: %w", id, err)
		}
		o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("cancelling order %q: %w", id, err)
		}
		for _, it := range o.Items {
			if _, err := tx.Exec(ctx, releaseSizeStockSQL, it.ProductID, it.Size, it.Quantity); err != nil {
				return fmt.Errorf("releasing %q: %w", it.ProductID, err)
			}
			if _, err := tx.Exec(ctx, releaseStockSQL, it.ProductID, it.Quantity); err != nil {
				return fmt.Errorf("releasing %q: %w", it.ProductID, err)
			}
		}
		cancelled = &o
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if cancelled != nil {
		return cancelled, true, nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status != order.StatusCancelled {
		return nil, false, order.ErrNotCancellable
	}
	return current, false, nil
}

// CountCompletedOrders returns the number of paid orders of a user.
func (r *OrderRepository) CountCompletedOrders(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCompletedOrdersSQL, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders of %q: %w", userID, err)
	}
	return n, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		couponID  *string
		status    string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &o.Subtotal, &o.Discount, &o.ShippingFee, &o.Total,
		&couponID, &o.CouponCode, &status, &o.CreatedAt, &o.PaidAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if couponID != nil {
		o.CouponID = *couponID
	}
	o.Status = order.Status(status)
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

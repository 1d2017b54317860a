package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockEvaluator struct {
	coupon   *coupon.Coupon
	discount coupon.Discount
	err      error
	lastReq  coupon.Request
}

func (m *mockEvaluator) EvaluateAndCalculate(_ context.Context, req coupon.Request) (*coupon.Coupon, coupon.Discount, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, coupon.Discount{}, m.err
	}
	return m.coupon, m.discount, nil
}

type mockLedger struct {
	usages []coupon.Usage
	codes  []string
	err    error
}

func (m *mockLedger) RecordUsage(_ context.Context, code string, u coupon.Usage) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, prev := range m.usages {
		if prev.OrderID == u.OrderID {
			return false, nil
		}
	}
	m.codes = append(m.codes, code)
	m.usages = append(m.usages, u)
	return true, nil
}

type mockOrderRepo struct {
	orders    map[string]*Order
	completed map[string]int
	lastOrder *Order
	err       error
}

func newOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: map[string]*Order{}, completed: map[string]int{}}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.err != nil {
		return m.err
	}
	m.lastOrder = o
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) MarkPaid(_ context.Context, id string, paidAt time.Time) (*Order, bool, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if o.Status == StatusPaid {
		cp := *o
		return &cp, false, nil
	}
	o.Status = StatusPaid
	o.PaidAt = &paidAt
	m.completed[o.UserID]++
	cp := *o
	return &cp, true, nil
}

func (m *mockOrderRepo) Cancel(_ context.Context, id string) (*Order, bool, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := o.Status != StatusCancelled
	o.Status = StatusCancelled
	cp := *o
	return &cp, changed, nil
}

func (m *mockOrderRepo) CountCompletedOrders(_ context.Context, userID string) (int, error) {
	return m.completed[userID], nil
}

// --- Helpers ---

func newTestProduct(id, name string, price decimal.Decimal) product.Product {
	return product.Product{
		ID:       id,
		Name:     name,
		Price:    price,
		Category: "test",
		Stock:    10,
		Image: product.Image{
			Thumbnail: "thumb.jpg",
			Mobile:    "mobile.jpg",
			Tablet:    "tablet.jpg",
			Desktop:   "desktop.jpg",
		},
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

func newService(products *mockProductRepo, ev *mockEvaluator, ledger *mockLedger, orders *mockOrderRepo) *Service {
	return NewService(Pricing{}, products, ev, ledger, orders)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- Tests ---

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc := newService(newProductRepo(), &mockEvaluator{}, &mockLedger{}, newOrderRepo())

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.NewFromInt(10))
	svc := newService(newProductRepo(p1), &mockEvaluator{}, &mockLedger{}, newOrderRepo())

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{{ProductID: "p1", Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	svc := newService(newProductRepo(), &mockEvaluator{}, &mockLedger{}, newOrderRepo())

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{{ProductID: "missing", Quantity: 1}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestPlaceOrder_NoCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	p2 := newTestProduct("p2", "Gadget", dec("20.00"))
	orders := newOrderRepo()
	svc := newService(newProductRepo(p1, p2), &mockEvaluator{}, &mockLedger{}, orders)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})

	require.NoError(t, err)
	assert.True(t, dec("40.00").Equal(result.Order.Subtotal))
	assert.True(t, dec("40.00").Equal(result.Order.Total))
	assert.True(t, decimal.Zero.Equal(result.Order.Discount))
	assert.Equal(t, StatusPending, result.Order.Status)
	assert.Len(t, result.Products, 2)
	assert.Same(t, result.Order, orders.lastOrder)
}

func TestPlaceOrder_WithCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	p2 := newTestProduct("p2", "Gadget", dec("20.00"))
	ev := &mockEvaluator{
		coupon: &coupon.Coupon{ID: "c1", Code: "SAVE5"},
		discount: coupon.Discount{
			Type:        coupon.DiscountFixed,
			Amount:      dec("5.00"),
			FinalAmount: dec("35.00"),
		},
	}
	svc := newService(newProductRepo(p1, p2), ev, &mockLedger{}, newOrderRepo())

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items: []ItemRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		CouponCode: "save5",
	})

	require.NoError(t, err)
	assert.True(t, dec("35.00").Equal(result.Order.Total))
	assert.True(t, dec("5.00").Equal(result.Order.Discount))
	assert.Equal(t, "c1", result.Order.CouponID)
	assert.Equal(t, "SAVE5", result.Order.CouponCode)

	assert.Equal(t, "u1", ev.lastReq.UserID)
	assert.True(t, dec("40.00").Equal(ev.lastReq.OrderAmount))
	assert.Len(t, ev.lastReq.Items, 2)
}

func TestPlaceOrder_InvalidCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	ev := &mockEvaluator{err: coupon.ErrExpired}
	orders := newOrderRepo()
	svc := newService(newProductRepo(p1), ev, &mockLedger{}, orders)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []ItemRequest{{ProductID: "p1", Quantity: 1}},
		CouponCode: "OLD",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, coupon.ErrExpired)
	assert.Equal(t, coupon.CodeExpired, coupon.ReasonOf(err))
	assert.Nil(t, orders.lastOrder)
}

func TestPlaceOrder_StockExceeded(t *testing.T) {
	p1 := newTestProduct("p1", "Shirt", dec("25.00"))
	p1.Sizes = map[string]int{"M": 3}
	orders := newOrderRepo()
	svc := newService(newProductRepo(p1), &mockEvaluator{}, &mockLedger{}, orders)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{{ProductID: "p1", Size: "M", Quantity: 5}},
	})

	var stockErr *cart.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, cart.CodeExceedsStock, stockErr.Code)
	assert.Equal(t, 3, stockErr.Available)
	assert.Nil(t, orders.lastOrder)
}

func TestPlaceOrder_DuplicateLinesShareStock(t *testing.T) {
	p1 := newTestProduct("p1", "Shirt", dec("25.00"))
	p1.Sizes = map[string]int{"M": 3}
	orders := newOrderRepo()
	svc := newService(newProductRepo(p1), &mockEvaluator{}, &mockLedger{}, orders)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{
			{ProductID: "p1", Size: "M", Quantity: 2},
			{ProductID: "p1", Size: "M", Quantity: 2},
		},
	})

	var stockErr *cart.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, cart.CodeExceedsStock, stockErr.Code)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)
	assert.Nil(t, orders.lastOrder)
}

func TestPlaceOrder_ShippingFee(t *testing.T) {
	pricing := Pricing{ShippingFee: dec("4.99"), FreeShippingThreshold: dec("50.00")}

	tests := []struct {
		name     string
		price    string
		discount coupon.Discount
		code     string
		wantFee  string
		wantTot  string
	}{
		{
			name:    "below threshold",
			price:   "20.00",
			wantFee: "4.99",
			wantTot: "24.99",
		},
		{
			name:    "at threshold",
			price:   "50.00",
			wantFee: "0",
			wantTot: "50.00",
		},
		{
			name:     "free shipping coupon",
			price:    "20.00",
			code:     "SHIPFREE",
			discount: coupon.Discount{Type: coupon.DiscountFreeShipping, Amount: decimal.Zero, FinalAmount: dec("20.00"), FreeShipping: true},
			wantFee:  "0",
			wantTot:  "20.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p1 := newTestProduct("p1", "Widget", dec(tt.price))
			ev := &mockEvaluator{coupon: &coupon.Coupon{ID: "c1", Code: tt.code}, discount: tt.discount}
			svc := NewService(pricing, newProductRepo(p1), ev, &mockLedger{}, newOrderRepo())

			result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				Items:      []ItemRequest{{ProductID: "p1", Quantity: 1}},
				CouponCode: tt.code,
			})
			require.NoError(t, err)
			assert.True(t, dec(tt.wantFee).Equal(result.Order.ShippingFee), "fee %s", result.Order.ShippingFee)
			assert.True(t, dec(tt.wantTot).Equal(result.Order.Total), "total %s", result.Order.Total)
		})
	}
}

func TestPlaceOrder_OrderCreateError(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.NewFromInt(10))
	orders := newOrderRepo()
	orders.err = errors.New("db write failed")
	svc := newService(newProductRepo(p1), &mockEvaluator{}, &mockLedger{}, orders)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{{ProductID: "p1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func placeWithCoupon(t *testing.T, svc *Service, userID string) *Order {
	t.Helper()
	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:     userID,
		Items:      []ItemRequest{{ProductID: "p1", Quantity: 2}},
		CouponCode: "SAVE10",
	})
	require.NoError(t, err)
	return result.Order
}

func TestCompleteOrder_RecordsUsage(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("50.00"))
	ev := &mockEvaluator{
		coupon:   &coupon.Coupon{ID: "c1", Code: "SAVE10"},
		discount: coupon.Discount{Amount: dec("10.00"), FinalAmount: dec("90.00")},
	}
	ledger := &mockLedger{}
	orders := newOrderRepo()
	svc := newService(newProductRepo(p1), ev, ledger, orders)

	placed := placeWithCoupon(t, svc, "u1")
	require.Empty(t, ledger.usages, "placing an order must not consume the coupon")

	res, err := svc.CompleteOrder(context.Background(), placed.ID)
	require.NoError(t, err)
	assert.True(t, res.UsageRecorded)
	assert.Equal(t, StatusPaid, res.Order.Status)
	require.NotNil(t, res.Order.PaidAt)

	require.Len(t, ledger.usages, 1)
	u := ledger.usages[0]
	assert.Equal(t, "SAVE10", ledger.codes[0])
	assert.Equal(t, "c1", u.CouponID)
	assert.Equal(t, "u1", u.UserID)
	assert.Equal(t, placed.ID, u.OrderID)
	assert.True(t, dec("10.00").Equal(u.DiscountAmount))
	assert.True(t, dec("90.00").Equal(u.OrderTotal))
	assert.Equal(t, []string{"test"}, u.Categories)
	assert.True(t, u.FirstOrder)
	assert.Equal(t, *res.Order.PaidAt, u.UsedAt)
}

func TestCompleteOrder_Idempotent(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("50.00"))
	ev := &mockEvaluator{
		coupon:   &coupon.Coupon{ID: "c1", Code: "SAVE10"},
		discount: coupon.Discount{Amount: dec("10.00"), FinalAmount: dec("90.00")},
	}
	ledger := &mockLedger{}
	svc := newService(newProductRepo(p1), ev, ledger, newOrderRepo())

	placed := placeWithCoupon(t, svc, "u1")
	for range 3 {
		res, err := svc.CompleteOrder(context.Background(), placed.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, res.Order.Status)
	}
	require.Len(t, ledger.usages, 1)
}

func TestCompleteOrder_ReturningCustomer(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("50.00"))
	ev := &mockEvaluator{
		coupon:   &coupon.Coupon{ID: "c1", Code: "SAVE10"},
		discount: coupon.Discount{Amount: dec("10.00"), FinalAmount: dec("90.00")},
	}
	ledger := &mockLedger{}
	svc := newService(newProductRepo(p1), ev, ledger, newOrderRepo())

	first := placeWithCoupon(t, svc, "u1")
	second := placeWithCoupon(t, svc, "u1")
	_, err := svc.CompleteOrder(context.Background(), first.ID)
	require.NoError(t, err)
	_, err = svc.CompleteOrder(context.Background(), second.ID)
	require.NoError(t, err)

	require.Len(t, ledger.usages, 2)
	assert.True(t, ledger.usages[0].FirstOrder)
	assert.False(t, ledger.usages[1].FirstOrder)
}

func TestCompleteOrder_LedgerFailureKeepsPayment(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("50.00"))
	ev := &mockEvaluator{
		coupon:   &coupon.Coupon{ID: "c1", Code: "SAVE10"},
		discount: coupon.Discount{Amount: dec("10.00"), FinalAmount: dec("90.00")},
	}
	ledger := &mockLedger{err: errors.New("connection reset")}
	svc := newService(newProductRepo(p1), ev, ledger, newOrderRepo())

	placed := placeWithCoupon(t, svc, "u1")
	res, err := svc.CompleteOrder(context.Background(), placed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.Order.Status)
	assert.False(t, res.UsageRecorded)
}

func TestCompleteOrder_NotFound(t *testing.T) {
	svc := newService(newProductRepo(), &mockEvaluator{}, &mockLedger{}, newOrderRepo())

	_, err := svc.CompleteOrder(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteOrder_Cancelled(t *testing.T) {
	orders := newOrderRepo()
	orders.orders["o1"] = &Order{ID: "o1", Status: StatusCancelled}
	svc := newService(newProductRepo(), &mockEvaluator{}, &mockLedger{}, orders)

	_, err := svc.CompleteOrder(context.Background(), "o1")
	require.ErrorIs(t, err, ErrNotPayable)
}

func TestOrderCategories(t *testing.T) {
	o := &Order{Items: []OrderItem{
		{Category: "Waffle"},
		{Category: "Cake"},
		{Category: "Waffle"},
		{Category: ""},
	}}
	assert.Equal(t, []string{"Waffle", "Cake"}, o.Categories())
}

func TestCancelOrder(t *testing.T) {
	orders := newOrderRepo()
	orders.orders["o1"] = &Order{ID: "o1", Status: StatusPending}
	orders.orders["o2"] = &Order{ID: "o2", Status: StatusPaid}
	svc := newService(newProductRepo(), &mockEvaluator{}, &mockLedger{}, orders)
	ctx := context.Background()

	o, err := svc.CancelOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	o, err = svc.CancelOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	_, err = svc.CancelOrder(ctx, "o2")
	require.ErrorIs(t, err, ErrNotCancellable)

	_, err = svc.CancelOrder(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileCart(t *testing.T) {
	shirt := newTestProduct("p1", "Shirt", dec("25.00"))
	shirt.Sizes = map[string]int{"M": 3, "L": 0}
	mug := newTestProduct("p2", "Mug", dec("8.00"))
	orders := newOrderRepo()
	svc := newService(newProductRepo(shirt, mug), &mockEvaluator{}, &mockLedger{}, orders)

	got, err := svc.ReconcileCart(context.Background(), []ItemRequest{
		{ProductID: "p1", Size: "M", Quantity: 5},
		{ProductID: "p1", Size: "L", Quantity: 1},
		{ProductID: "p2", Quantity: 2},
		{ProductID: "gone", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.True(t, got[0].ExceedsStock)
	assert.Equal(t, 3, got[0].AvailableStock)
	assert.True(t, dec("25.00").Equal(got[0].UnitPrice))

	assert.True(t, got[1].OutOfStock)

	assert.False(t, got[2].OutOfStock || got[2].ExceedsStock)
	assert.Equal(t, 10, got[2].AvailableStock)

	assert.True(t, got[3].Unknown)
	assert.Nil(t, orders.lastOrder)

	_, err = svc.ReconcileCart(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyItems)

	// Lines of the same product and size share its stock.
	got, err = svc.ReconcileCart(context.Background(), []ItemRequest{
		{ProductID: "p1", Size: "M", Quantity: 2},
		{ProductID: "p1", Size: "M", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].ExceedsStock)
	assert.True(t, got[1].ExceedsStock)
	assert.Equal(t, 4, got[1].RequestedTotal)
	assert.True(t, cart.Blocking(got))
}

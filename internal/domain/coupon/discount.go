package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places every currency amount is
// rounded to, on previews and on charged orders alike.
const MoneyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Discount is the outcome of applying a coupon to an order amount.
type Discount struct {
	Type         DiscountType
	Amount       decimal.Decimal
	FinalAmount  decimal.Decimal
	FreeShipping bool
}

// Calculate computes the discount for c against orderAmount.
//
// The product subtotal is never discounted below zero. A free_shipping coupon
// yields a zero amount and sets FreeShipping so the caller can waive the
// delivery fee.
func Calculate(c *Coupon, orderAmount decimal.Decimal) (Discount, error) {
	orderAmount = floorAtZero(orderAmount)

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = orderAmount.Mul(c.DiscountValue).Div(hundred)
		if c.MaximumDiscountAmount.IsPositive() {
			amount = decimal.Min(amount, c.MaximumDiscountAmount)
		}
	case DiscountFixed:
		amount = decimal.Min(c.DiscountValue, orderAmount)
	case DiscountFreeShipping:
		amount = zero
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	amount = Round(floorAtZero(amount))
	return Discount{
		Type:         c.DiscountType,
		Amount:       amount,
		FinalAmount:  Round(floorAtZero(orderAmount.Sub(amount))),
		FreeShipping: c.DiscountType == DiscountFreeShipping,
	}, nil
}

// Round rounds a currency amount half away from zero to MoneyPlaces.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}

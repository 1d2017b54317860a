package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money writes d as a JSON number with exactly two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(coupon.MoneyPlaces)))
}

func moneyField(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	money(e, d)
}

func strField(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func intField(e *jx.Encoder, name string, v int) {
	e.FieldStart(name)
	e.Int(v)
}

func boolField(e *jx.Encoder, name string, v bool) {
	e.FieldStart(name)
	e.Bool(v)
}

func timeField(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func strArray(e *jx.Encoder, values []string) {
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}

func (h *Handler) imageURL(path string) string {
	if h.cfg.ImageBaseURL == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(h.cfg.ImageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	strField(e, "id", p.ID)
	strField(e, "name", p.Name)
	moneyField(e, "price", p.Price)
	strField(e, "category", p.Category)

	e.FieldStart("image")
	e.ObjStart()
	strField(e, "thumbnail", h.imageURL(p.Image.Thumbnail))
	strField(e, "mobile", h.imageURL(p.Image.Mobile))
	strField(e, "tablet", h.imageURL(p.Image.Tablet))
	strField(e, "desktop", h.imageURL(p.Image.Desktop))
	e.ObjEnd()

	stock := p.Stock
	if p.Sized() {
		stock = 0
		e.FieldStart("sizes")
		e.ArrStart()
		for _, size := range p.SizeNames() {
			e.ObjStart()
			strField(e, "size", size)
			intField(e, "stock", p.Sizes[size])
			e.ObjEnd()
			stock += max(0, p.Sizes[size])
		}
		e.ArrEnd()
	}
	intField(e, "stock", stock)
	e.ObjEnd()
}

// encodeCouponPreview writes the public view of a coupon with the discount it
// yields on the evaluated order.
func encodeCouponPreview(e *jx.Encoder, c *coupon.Coupon, d coupon.Discount) {
	e.ObjStart()
	strField(e, "code", c.Code)
	strField(e, "description", c.Description)
	strField(e, "type", string(c.CouponType))
	strField(e, "discountType", string(c.DiscountType))
	e.FieldStart("discountValue")
	e.Num(jx.Num(c.DiscountValue.String()))
	moneyField(e, "discountAmount", d.Amount)
	moneyField(e, "finalAmount", d.FinalAmount)
	boolField(e, "freeShipping", d.FreeShipping)
	moneyField(e, "minimumOrderAmount", c.MinimumOrderAmount)
	if c.MaximumDiscountAmount.IsPositive() {
		moneyField(e, "maximumDiscountAmount", c.MaximumDiscountAmount)
	}
	if c.MinimumPurchaseItems > 0 {
		intField(e, "minimumPurchaseItems", c.MinimumPurchaseItems)
	}
	if len(c.ApplicableCategories) > 0 {
		e.FieldStart("applicableCategories")
		strArray(e, c.ApplicableCategories)
	}
	if len(c.ExcludedCategories) > 0 {
		e.FieldStart("excludedCategories")
		strArray(e, c.ExcludedCategories)
	}
	boolField(e, "stackable", c.Stackable)
	intField(e, "priority", c.Priority)
	timeField(e, "validFrom", c.ValidFrom)
	timeField(e, "validUntil", c.ValidUntil)
	e.ObjEnd()
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	strField(e, "id", o.ID)
	if o.UserID != "" {
		strField(e, "userId", o.UserID)
	}
	strField(e, "status", string(o.Status))

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		strField(e, "productId", it.ProductID)
		if it.Size != "" {
			strField(e, "size", it.Size)
		}
		intField(e, "quantity", it.Quantity)
		moneyField(e, "unitPrice", it.UnitPrice)
		strField(e, "category", it.Category)
		e.ObjEnd()
	}
	e.ArrEnd()

	moneyField(e, "subtotal", o.Subtotal)
	moneyField(e, "discount", o.Discount)
	moneyField(e, "shippingFee", o.ShippingFee)
	moneyField(e, "total", o.Total)
	if h.cfg.Currency != "" {
		strField(e, "currency", h.cfg.Currency)
	}
	if o.CouponCode != "" {
		strField(e, "couponCode", o.CouponCode)
	}
	timeField(e, "createdAt", o.CreatedAt)
	if o.PaidAt != nil {
		timeField(e, "paidAt", *o.PaidAt)
	}
	e.ObjEnd()
}

func encodeReconciled(e *jx.Encoder, it cart.ReconciledItem) {
	e.ObjStart()
	strField(e, "productId", it.ProductID)
	if it.Size != "" {
		strField(e, "size", it.Size)
	}
	intField(e, "quantity", it.Quantity)
	if !it.Unknown {
		moneyField(e, "unitPrice", it.UnitPrice)
	}
	intField(e, "availableStock", it.AvailableStock)
	boolField(e, "outOfStock", it.OutOfStock)
	boolField(e, "exceedsStock", it.ExceedsStock)
	if it.Unknown {
		boolField(e, "unknown", true)
	}
	e.ObjEnd()
}

func encodeBuckets(e *jx.Encoder, key string, buckets []coupon.Bucket) {
	e.ArrStart()
	for _, b := range buckets {
		e.ObjStart()
		strField(e, key, b.Label)
		intField(e, "count", b.Count)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeAnalytics(e *jx.Encoder, a coupon.CouponAnalytics) {
	e.ObjStart()
	strField(e, "couponId", a.CouponID)
	strField(e, "code", a.Code)
	intField(e, "usageCount", a.UsageCount)
	moneyField(e, "totalRevenue", a.TotalRevenue)
	moneyField(e, "totalDiscount", a.TotalDiscount)
	moneyField(e, "averageDiscount", a.AverageDiscount)
	moneyField(e, "averageOrderValue", a.AverageOrderValue)
	e.FieldStart("successRate")
	e.Num(jx.Num(a.SuccessRate.String()))

	e.FieldStart("attempts")
	e.ObjStart()
	intField(e, "total", a.Attempts.Total)
	intField(e, "successful", a.Attempts.Successful)
	e.ObjEnd()

	e.FieldStart("timeDistribution")
	e.ObjStart()
	e.FieldStart("byHour")
	e.ArrStart()
	for _, n := range a.TimeDistribution.ByHour {
		e.Int(n)
	}
	e.ArrEnd()
	e.FieldStart("byWeekday")
	e.ObjStart()
	for i, n := range a.TimeDistribution.ByWeekday {
		intField(e, coupon.WeekdayLabel(i), n)
	}
	e.ObjEnd()
	e.FieldStart("byMonth")
	encodeBuckets(e, "month", a.TimeDistribution.ByMonth)
	e.ObjEnd()

	e.FieldStart("categoryDistribution")
	encodeBuckets(e, "category", a.CategoryDistribution)

	e.FieldStart("userSegmentation")
	e.ObjStart()
	intField(e, "new", a.UserSegmentation.New)
	intField(e, "returning", a.UserSegmentation.Returning)
	e.ObjEnd()
	e.ObjEnd()
}

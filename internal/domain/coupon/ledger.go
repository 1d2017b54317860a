package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// UsageInvalidator drops cached coupon state after a usage is recorded.
type UsageInvalidator interface {
	Invalidate(ctx context.Context, code string) error
}

// Ledger records coupon consumption. RecordUsage is the single mutating entry
// point for coupon counters and must only be called after payment is
// confirmed.
type Ledger struct {
	store       UsageStore
	invalidator UsageInvalidator
	now         func() time.Time

	recorded metric.Int64Counter
	failures metric.Int64Counter
}

// NewLedger creates a Ledger over the given store. The invalidator may be nil.
func NewLedger(store UsageStore, invalidator UsageInvalidator, mp metric.MeterProvider) (*Ledger, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("storefront/coupon")

	recorded, err := meter.Int64Counter("coupon.usage.recorded",
		metric.WithDescription("Coupon usages appended to the ledger"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create recorded counter")
	}
	failures, err := meter.Int64Counter("coupon.usage.failures",
		metric.WithDescription("Coupon usages that failed to persist after payment"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create failures counter")
	}

	return &Ledger{
		store:       store,
		invalidator: invalidator,
		now:         time.Now,
		recorded:    recorded,
		failures:    failures,
	}, nil
}

// RecordUsage appends the usage for a completed order. Re-recording an
// already recorded order is a no-op and returns false.
//
// Cap violations are returned as *ValidationError, any other failure as a
// wrapped error. Either way the discount was granted without its consumption
// being stored, so both are logged for manual reconciliation.
func (l *Ledger) RecordUsage(ctx context.Context, code string, u Usage) (bool, error) {
	if u.CouponID == "" || u.OrderID == "" {
		return false, errors.New("coupon id and order id are required")
	}
	if u.DiscountAmount.IsNegative() || u.OrderTotal.IsNegative() {
		return false, errors.New("usage amounts must not be negative")
	}
	if u.UsedAt.IsZero() {
		u.UsedAt = l.now()
	}

	lg := zctx.From(ctx).With(
		zap.String("coupon_id", u.CouponID),
		zap.String("order_id", u.OrderID),
		zap.String("user_id", u.UserID),
	)

	ok, err := l.store.RecordUsage(ctx, u)
	if err != nil {
		if reason := ReasonOf(err); reason != "" {
			// The order is already paid, so the discount went out anyway.
			lg.Error("Coupon usage rejected after payment",
				zap.String("reconcile", "manual"),
				zap.String("reason", string(reason)),
				zap.String("discount", u.DiscountAmount.String()),
			)
			l.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
			return false, err
		}
		lg.Error("Coupon usage not recorded after payment",
			zap.String("reconcile", "manual"),
			zap.String("discount", u.DiscountAmount.String()),
			zap.Error(err),
		)
		l.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "persistence")))
		return false, errors.Wrap(err, "record usage")
	}
	if !ok {
		lg.Debug("Coupon usage already recorded")
		return false, nil
	}

	l.recorded.Add(ctx, 1)
	if l.invalidator != nil {
		if err := l.invalidator.Invalidate(ctx, code); err != nil {
			lg.Warn("Invalidate coupon cache", zap.Error(err))
		}
	}
	return true, nil
}

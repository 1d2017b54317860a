package coupon

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// CouponAnalytics is the read-only roll-up of a coupon's usage.
type CouponAnalytics struct {
	CouponID          string
	Code              string
	UsageCount        int
	TotalRevenue      decimal.Decimal
	TotalDiscount     decimal.Decimal
	AverageDiscount   decimal.Decimal
	AverageOrderValue decimal.Decimal
	// SuccessRate is successful validations over attempted validations, in
	// [0, 1]. Zero when nothing was attempted.
	SuccessRate          decimal.Decimal
	Attempts             AttemptStats
	TimeDistribution     TimeDistribution
	CategoryDistribution []Bucket
	UserSegmentation     Segmentation
}

// TimeDistribution buckets usage timestamps.
type TimeDistribution struct {
	ByHour    [24]int
	ByWeekday [7]int // indexed by time.Weekday
	ByMonth   []Bucket
}

// Bucket is a labelled count.
type Bucket struct {
	Label string
	Count int
}

// Segmentation splits redemptions into new and returning customers.
type Segmentation struct {
	New       int
	Returning int
}

// Analytics computes coupon analytics on demand.
type Analytics struct {
	coupons  Repository
	usages   UsageStore
	attempts AttemptLog
}

// NewAnalytics creates an Analytics service.
func NewAnalytics(coupons Repository, usages UsageStore, attempts AttemptLog) *Analytics {
	return &Analytics{coupons: coupons, usages: usages, attempts: attempts}
}

// Compute loads the usage history and attempt counters of a coupon and
// aggregates them.
func (a *Analytics) Compute(ctx context.Context, couponID string) (CouponAnalytics, error) {
	c, err := a.coupons.FindByID(ctx, couponID)
	if err != nil {
		return CouponAnalytics{}, err
	}

	var (
		usages   []Usage
		attempts AttemptStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if usages, err = a.usages.ListUsages(gctx, c.ID); err != nil {
			return errors.Wrap(err, "list usages")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if attempts, err = a.attempts.AttemptStats(gctx, c.Code); err != nil {
			return errors.Wrap(err, "attempt stats")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return CouponAnalytics{}, err
	}

	out := Aggregate(usages, attempts)
	out.CouponID = c.ID
	out.Code = c.Code
	return out, nil
}

// Aggregate rolls usages up into analytics. Timestamps are bucketed in UTC.
func Aggregate(usages []Usage, attempts AttemptStats) CouponAnalytics {
	out := CouponAnalytics{
		UsageCount:    len(usages),
		TotalRevenue:  zero,
		TotalDiscount: zero,
		Attempts:      attempts,
	}

	months := make(map[string]int)
	categories := make(map[string]int)
	for _, u := range usages {
		out.TotalRevenue = out.TotalRevenue.Add(u.OrderTotal)
		out.TotalDiscount = out.TotalDiscount.Add(u.DiscountAmount)

		at := u.UsedAt.UTC()
		out.TimeDistribution.ByHour[at.Hour()]++
		out.TimeDistribution.ByWeekday[at.Weekday()]++
		months[at.Format("2006-01")]++

		seen := make(map[string]struct{}, len(u.Categories))
		for _, cat := range u.Categories {
			if _, dup := seen[cat]; dup {
				continue
			}
			seen[cat] = struct{}{}
			categories[cat]++
		}

		if u.FirstOrder {
			out.UserSegmentation.New++
		} else {
			out.UserSegmentation.Returning++
		}
	}

	if n := len(usages); n > 0 {
		count := decimal.NewFromInt(int64(n))
		out.AverageDiscount = Round(out.TotalDiscount.Div(count))
		out.AverageOrderValue = Round(out.TotalRevenue.Div(count))
	}
	if attempts.Total > 0 {
		out.SuccessRate = decimal.NewFromInt(int64(attempts.Successful)).
			Div(decimal.NewFromInt(int64(attempts.Total))).
			Round(4)
	}

	out.TimeDistribution.ByMonth = sortedBuckets(months, false)
	out.CategoryDistribution = sortedBuckets(categories, true)
	return out
}

// sortedBuckets turns counts into buckets, ordered by label or, when byCount
// is set, by descending count with label as tie-break.
func sortedBuckets(counts map[string]int, byCount bool) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for label, n := range counts {
		out = append(out, Bucket{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if byCount && out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// WeekdayLabel returns the short English weekday name for index i.
func WeekdayLabel(i int) string {
	if i < 0 || i > 6 {
		return strconv.Itoa(i)
	}
	return time.Weekday(i).String()[:3]
}

// StatsFrom derives Stats from the ledger's aggregate counters.
func StatsFrom(usedCount, usageLimit int, totalDiscount, totalOrderValue decimal.Decimal) Stats {
	s := Stats{
		TotalUsage:         usedCount,
		TotalDiscountGiven: totalDiscount,
		AverageOrderValue:  zero,
		RedemptionRate:     zero,
	}
	if usedCount > 0 {
		s.AverageOrderValue = Round(totalOrderValue.Div(decimal.NewFromInt(int64(usedCount))))
	}
	if usageLimit > 0 {
		s.RedemptionRate = decimal.NewFromInt(int64(usedCount)).
			Div(decimal.NewFromInt(int64(usageLimit))).
			Round(4)
	}
	return s
}

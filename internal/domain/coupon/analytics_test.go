package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	mon := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC) // Monday
	sat := time.Date(2024, 2, 3, 21, 0, 0, 0, time.UTC)  // Saturday
	local := time.Date(2024, 2, 4, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))

	usages := []Usage{
		{UsedAt: mon, DiscountAmount: dec("10"), OrderTotal: dec("90"), Categories: []string{"Shoes", "Shirts", "Shoes"}, FirstOrder: true},
		{UsedAt: sat, DiscountAmount: dec("20"), OrderTotal: dec("180"), Categories: []string{"Shoes"}},
		{UsedAt: local, DiscountAmount: dec("5"), OrderTotal: dec("45"), Categories: []string{"Hats"}},
	}

	a := Aggregate(usages, AttemptStats{Total: 8, Successful: 3})

	assert.Equal(t, 3, a.UsageCount)
	assert.True(t, dec("315").Equal(a.TotalRevenue))
	assert.True(t, dec("35").Equal(a.TotalDiscount))
	assert.True(t, dec("11.67").Equal(a.AverageDiscount), a.AverageDiscount.String())
	assert.True(t, dec("105").Equal(a.AverageOrderValue))
	assert.True(t, dec("0.375").Equal(a.SuccessRate))

	assert.Equal(t, 1, a.TimeDistribution.ByHour[9])
	assert.Equal(t, 1, a.TimeDistribution.ByHour[21])
	assert.Equal(t, 1, a.TimeDistribution.ByHour[22], "bucketed in UTC")
	assert.Equal(t, 1, a.TimeDistribution.ByWeekday[time.Monday])
	assert.Equal(t, 2, a.TimeDistribution.ByWeekday[time.Saturday])
	assert.Equal(t, []Bucket{{Label: "2024-01", Count: 1}, {Label: "2024-02", Count: 2}}, a.TimeDistribution.ByMonth)

	assert.Equal(t, []Bucket{
		{Label: "Shoes", Count: 2},
		{Label: "Hats", Count: 1},
		{Label: "Shirts", Count: 1},
	}, a.CategoryDistribution)

	assert.Equal(t, Segmentation{New: 1, Returning: 2}, a.UserSegmentation)
}

func TestAggregate_Empty(t *testing.T) {
	a := Aggregate(nil, AttemptStats{})
	assert.Zero(t, a.UsageCount)
	assert.True(t, a.TotalRevenue.IsZero())
	assert.True(t, a.AverageDiscount.IsZero())
	assert.True(t, a.SuccessRate.IsZero())
	assert.Empty(t, a.CategoryDistribution)
}

func TestAnalytics_Compute(t *testing.T) {
	repo := newMemRepo(baseCoupon())
	l := newTestLedger(t, repo, nil)
	ctx := context.Background()
	for _, id := range []string{"o1", "o2"} {
		_, err := l.RecordUsage(ctx, "SAVE10", usageFor(id, "u-"+id))
		require.NoError(t, err)
	}

	attempts := &mockAttempts{stats: AttemptStats{Total: 4, Successful: 2}}
	got, err := NewAnalytics(repo, repo, attempts).Compute(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CouponID)
	assert.Equal(t, "SAVE10", got.Code)
	assert.Equal(t, 2, got.UsageCount)
	assert.True(t, dec("0.5").Equal(got.SuccessRate))
	assert.Equal(t, 4, got.Attempts.Total)
}

func TestAnalytics_Compute_Errors(t *testing.T) {
	repo := newMemRepo(baseCoupon())

	_, err := NewAnalytics(repo, repo, &mockAttempts{}).Compute(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = NewAnalytics(repo, repo, &mockAttempts{err: errors.New("boom")}).Compute(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt stats")
}

func TestStatsFrom(t *testing.T) {
	s := StatsFrom(4, 10, dec("40"), dec("410"))
	assert.Equal(t, 4, s.TotalUsage)
	assert.True(t, dec("40").Equal(s.TotalDiscountGiven))
	assert.True(t, dec("102.5").Equal(s.AverageOrderValue))
	assert.True(t, dec("0.4").Equal(s.RedemptionRate))

	s = StatsFrom(0, 0, dec("0"), dec("0"))
	assert.True(t, s.AverageOrderValue.IsZero())
	assert.True(t, s.RedemptionRate.IsZero())
}

func TestWeekdayLabel(t *testing.T) {
	assert.Equal(t, "Sun", WeekdayLabel(0))
	assert.Equal(t, "Sat", WeekdayLabel(6))
	assert.Equal(t, "7", WeekdayLabel(7))
}

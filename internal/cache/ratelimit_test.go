package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCounter struct {
	counts  map[string]int64
	ttls    map[string]time.Duration
	incrErr error
}

func newMockCounter() *mockCounter {
	return &mockCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *mockCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	if m.incrErr != nil {
		return redis.NewIntResult(0, m.incrErr)
	}
	m.counts[key]++
	return redis.NewIntResult(m.counts[key], nil)
}

func (m *mockCounter) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestFixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 12, 0, 30, 0, time.UTC)
	m := newMockCounter()
	f := newFixedWindow(m, 2, time.Minute)

	for want := 1; want >= 0; want-- {
		d, err := f.Allow(ctx, "10.0.0.1", now)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		assert.Equal(t, time.Date(2024, 1, 15, 12, 1, 0, 0, time.UTC), d.ResetAt)
	}

	d, err := f.Allow(ctx, "10.0.0.1", now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	key := "storefront:rate_limit:10.0.0.1:1705320000"
	assert.Equal(t, int64(3), m.counts[key])
	assert.Equal(t, time.Minute, m.ttls[key])

	// A new window starts a new counter.
	d, err = f.Allow(ctx, "10.0.0.1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFixedWindow_RedisError(t *testing.T) {
	m := newMockCounter()
	m.incrErr = errors.New("connection refused")
	f := newFixedWindow(m, 2, time.Minute)

	_, err := f.Allow(context.Background(), "10.0.0.1", time.Now())
	require.ErrorContains(t, err, "connection refused")
}

package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/bpread/internal/testutil"
)

func newClockedLimiter(perMin, perHour, perDay int, data int64) (*RateLimiter, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC))
	return NewRateLimiter(perMin, perHour, perDay, data).WithClock(clock), clock
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl, _ := newClockedLimiter(0, 0, 0, 0)

	for range 100 {
		require.NoError(t, rl.CheckRateLimit("client", 100))
	}
	usage := rl.GetUsage("client")
	assert.Equal(t, 100, usage.RequestsToday)
	assert.Equal(t, int64(10000), usage.DataToday)
	assert.Equal(t, Usage{}, rl.GetUsage("unknown"))
}

func TestRateLimiter_MinuteWindow(t *testing.T) {
	rl, clock := newClockedLimiter(2, 0, 0, 0)

	require.NoError(t, rl.CheckRateLimit("client", 0))
	clock.Advance(20 * time.Second)
	require.NoError(t, rl.CheckRateLimit("client", 0))

	err := rl.CheckRateLimit("client", 0)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "minute", rle.Type)
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, 40*time.Second, rle.RetryAfter)

	// Rejected requests are not counted.
	assert.Equal(t, 2, rl.GetUsage("client").RequestsLastMinute)

	clock.Advance(40 * time.Second)
	assert.NoError(t, rl.CheckRateLimit("client", 0))
	assert.Equal(t, 1, rl.GetUsage("client").RequestsLastMinute)
}

func TestRateLimiter_HourWindow(t *testing.T) {
	rl, clock := newClockedLimiter(0, 3, 0, 0)

	for range 3 {
		require.NoError(t, rl.CheckRateLimit("client", 0))
		clock.Advance(5 * time.Minute)
	}

	err := rl.CheckRateLimit("client", 0)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "hour", rle.Type)
	assert.Equal(t, 45*time.Minute, rle.RetryAfter)

	clock.Advance(45 * time.Minute)
	assert.NoError(t, rl.CheckRateLimit("client", 0))
}

func TestRateLimiter_DailyRequestQuota(t *testing.T) {
	rl, clock := newClockedLimiter(0, 0, 2, 0)

	require.NoError(t, rl.CheckRateLimit("client", 0))
	require.NoError(t, rl.CheckRateLimit("client", 0))

	err := rl.CheckRateLimit("client", 0)
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "requests", qe.Type)
	assert.Equal(t, int64(2), qe.Limit)
	assert.Equal(t, int64(2), qe.Used)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), qe.Resets)

	// Two hours later it is the next day.
	clock.Advance(2 * time.Hour)
	assert.NoError(t, rl.CheckRateLimit("client", 0))
	assert.Equal(t, 1, rl.GetUsage("client").RequestsToday)
}

func TestRateLimiter_DailyDataQuota(t *testing.T) {
	rl, _ := newClockedLimiter(0, 0, 0, 1000)

	require.NoError(t, rl.CheckRateLimit("client", 600))

	err := rl.CheckRateLimit("client", 500)
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "data", qe.Type)
	assert.Equal(t, int64(600), qe.Used)
	assert.Contains(t, qe.Error(), "quota exceeded for data")

	assert.NoError(t, rl.CheckRateLimit("client", 400))
	assert.Equal(t, int64(1000), rl.GetUsage("client").DataToday)
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl, _ := newClockedLimiter(1, 0, 0, 0)

	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.Error(t, rl.CheckRateLimit("a", 0))
	assert.NoError(t, rl.CheckRateLimit("b", 0))
}

func TestRateLimitError_Message(t *testing.T) {
	err := &RateLimitError{Type: "minute", Limit: 5, RetryAfter: 30 * time.Second}
	assert.Equal(t, "rate limit exceeded for minute (limit: 5, retry after: 30s)", err.Error())
}

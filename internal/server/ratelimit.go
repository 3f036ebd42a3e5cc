package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/MeKo-Tech/bpread/internal/common"
)

// RateLimiter tracks per-client request windows and daily quotas.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	clock   common.Clock
	clients map[string]*clientUsage
}

// clientUsage holds fixed windows for one client.
type clientUsage struct {
	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time

	minute int
	hour   int
	day    int
	data   int64
}

// Usage is a snapshot of a client's counters.
type Usage struct {
	RequestsLastMinute int   `json:"requests_last_minute"`
	RequestsLastHour   int   `json:"requests_last_hour"`
	RequestsToday      int   `json:"requests_today"`
	DataToday          int64 `json:"data_today"`
}

// NewRateLimiter creates a rate limiter. A zero limit is not enforced.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clock:             common.SystemClock{},
		clients:           make(map[string]*clientUsage),
	}
}

// WithClock replaces the wall clock.
func (rl *RateLimiter) WithClock(c common.Clock) *RateLimiter {
	rl.clock = c
	return rl
}

// CheckRateLimit admits one request of dataSize bytes from clientID or
// returns a *RateLimitError or *QuotaExceededError. Rejected requests are
// not counted.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	u := rl.client(clientID, now)
	u.roll(now)

	if rl.requestsPerMinute > 0 && u.minute >= rl.requestsPerMinute {
		return &RateLimitError{Type: "minute", Limit: rl.requestsPerMinute, RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	}
	if rl.requestsPerHour > 0 && u.hour >= rl.requestsPerHour {
		return &RateLimitError{Type: "hour", Limit: rl.requestsPerHour, RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	}

	resets := nextMidnight(now)
	if rl.maxRequestsPerDay > 0 && u.day >= rl.maxRequestsPerDay {
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.maxRequestsPerDay), Used: int64(u.day), Resets: resets}
	}
	if rl.maxDataPerDay > 0 && u.data+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{Type: "data", Limit: rl.maxDataPerDay, Used: u.data, Resets: resets}
	}

	u.minute++
	u.hour++
	u.day++
	u.data += dataSize
	return nil
}

func (rl *RateLimiter) client(id string, now time.Time) *clientUsage {
	u, ok := rl.clients[id]
	if !ok {
		u = &clientUsage{minuteStart: now, hourStart: now, dayStart: startOfDay(now)}
		rl.clients[id] = u
	}
	return u
}

// roll starts new windows once the current ones have elapsed.
func (u *clientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart, u.minute = now, 0
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hourStart, u.hour = now, 0
	}
	if day := startOfDay(now); day.After(u.dayStart) {
		u.dayStart, u.day, u.data = day, 0, 0
	}
}

// GetUsage returns the current counters for a client.
func (rl *RateLimiter) GetUsage(clientID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[clientID]
	if !ok {
		return Usage{}
	}
	u.roll(rl.clock.Now())
	return Usage{
		RequestsLastMinute: u.minute,
		RequestsLastHour:   u.hour,
		RequestsToday:      u.day,
		DataToday:          u.data,
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextMidnight(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

// RateLimitError reports an exceeded request window.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError reports an exhausted daily quota.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}

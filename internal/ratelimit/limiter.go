// Package ratelimit keeps REST usage under Bitstamp's request budget. The budget is
// enforced per account, so each API key gets its own bucket next to the global one.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter struct {
	global   *rate.Limiter
	mu       sync.Mutex
	keys     map[string]*rate.Limiter
	requests int
	period   time.Duration
	metrics  *Metrics
}

type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
}

// New allows requests per period with a burst equal to requests.
func New(requests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		global:   rate.NewLimiter(perSecond(requests, period), requests),
		keys:     make(map[string]*rate.Limiter),
		requests: requests,
		period:   period,
		metrics:  &Metrics{},
	}
}

func perSecond(requests int, period time.Duration) rate.Limit {
	return rate.Limit(float64(requests) / period.Seconds())
}

// Wait blocks until the global budget allows a request or the context ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.wait(ctx, r.global)
}

// WaitKey waits on the global budget and then on the bucket of apiKey.
func (r *RateLimiter) WaitKey(ctx context.Context, apiKey string) error {
	if err := r.Wait(ctx); err != nil {
		return err
	}
	return r.wait(ctx, r.bucket(apiKey))
}

func (r *RateLimiter) wait(ctx context.Context, l *rate.Limiter) error {
	r.metrics.totalRequests.Add(1)
	if err := l.Wait(ctx); err != nil {
		r.metrics.deniedRequests.Add(1)
		return err
	}
	r.metrics.allowedRequests.Add(1)
	return nil
}

// Allow reports whether the global budget permits a request right now.
func (r *RateLimiter) Allow() bool {
	return r.allow(r.global)
}

// AllowKey reports whether the bucket of apiKey permits a request right now.
func (r *RateLimiter) AllowKey(apiKey string) bool {
	return r.allow(r.bucket(apiKey))
}

func (r *RateLimiter) allow(l *rate.Limiter) bool {
	r.metrics.totalRequests.Add(1)
	if l.Allow() {
		r.metrics.allowedRequests.Add(1)
		return true
	}
	r.metrics.deniedRequests.Add(1)
	return false
}

func (r *RateLimiter) bucket(apiKey string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.keys[apiKey]
	if !ok {
		l = rate.NewLimiter(perSecond(r.requests, r.period), r.requests)
		r.keys[apiKey] = l
	}
	return l
}

// SetLimit updates the global and every per-key budget.
func (r *RateLimiter) SetLimit(requests int, period time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = requests
	r.period = period
	limit := perSecond(requests, period)
	r.global.SetLimit(limit)
	r.global.SetBurst(requests)
	for _, l := range r.keys {
		l.SetLimit(limit)
		l.SetBurst(requests)
	}
}

func (r *RateLimiter) Metrics() MetricsSnapshot {
	r.mu.Lock()
	buckets := len(r.keys)
	r.mu.Unlock()

	return MetricsSnapshot{
		TotalRequests:   r.metrics.totalRequests.Load(),
		AllowedRequests: r.metrics.allowedRequests.Load(),
		DeniedRequests:  r.metrics.deniedRequests.Load(),
		KeyBuckets:      buckets,
	}
}

type MetricsSnapshot struct {
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	// KeyBuckets is the number of API keys seen so far.
	KeyBuckets int
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrWaitTimeout is returned when WaitForAvailability exhausts its budget
// without obtaining a token and a concurrency slot.
var ErrWaitTimeout = errors.New("rate limiter: timed out waiting for availability")

// Limiter guards all calls to the shared reasoning service. A token bucket
// (capacity = requests per minute, refilled continuously) bounds throughput
// and an in-flight counter bounds concurrency. Both are checked and committed
// under one lock: a token is never consumed when the concurrency check fails,
// and a slot is never taken when the bucket is empty.
type Limiter struct {
	mu sync.Mutex

	requestsPerMinute int
	maxConcurrent     int

	tokens     int
	lastRefill time.Time
	inFlight   int

	// pollInterval is how often WaitForAvailability retries TryAcquire.
	pollInterval time.Duration
}

func NewLimiter(requestsPerMinute, maxConcurrent int) *Limiter {
	return &Limiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		tokens:            requestsPerMinute,
		lastRefill:        time.Now(),
		pollInterval:      time.Second,
	}
}

// SetPollInterval overrides the retry cadence of WaitForAvailability.
// Intended for tests.
func (l *Limiter) SetPollInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d > 0 {
		l.pollInterval = d
	}
}

// TryAcquire attempts to take one token and one concurrency slot as a single
// atomic unit. It never blocks. Callers must invoke Release exactly once for
// every successful acquire.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())

	// Token first: failing the concurrency check must not burn a token.
	if l.tokens <= 0 {
		return false
	}
	if l.inFlight >= l.maxConcurrent {
		return false
	}

	l.tokens--
	l.inFlight++
	return true
}

// Release returns the concurrency slot taken by a successful TryAcquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
}

// WaitForAvailability polls TryAcquire until it succeeds, the timeout
// elapses, or ctx is cancelled. A zero or negative timeout fails immediately
// unless a slot is free right now.
func (l *Limiter) WaitForAvailability(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if l.TryAcquire() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}

		l.mu.Lock()
		interval := l.pollInterval
		l.mu.Unlock()
		if remaining := time.Until(deadline); remaining < interval {
			interval = remaining
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refillLocked tops the bucket up from elapsed wall-clock time.
// Caller must hold the lock.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}

	tokensToAdd := int(elapsed.Seconds() * float64(l.requestsPerMinute) / 60)
	if tokensToAdd <= 0 {
		return
	}

	l.tokens = min(l.requestsPerMinute, l.tokens+tokensToAdd)
	l.lastRefill = now
}

// Status is a snapshot of the limiter state for logs and monitoring.
type Status struct {
	RequestsPerMinute int
	AvailableTokens   int
	InFlight          int
	MaxConcurrent     int
}

func (s Status) String() string {
	return fmt.Sprintf(
		"RateLimiter: max=%d/min, available=%d, in_flight=%d/%d",
		s.RequestsPerMinute,
		s.AvailableTokens,
		s.InFlight,
		s.MaxConcurrent,
	)
}

// Status returns the current limiter state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())

	return Status{
		RequestsPerMinute: l.requestsPerMinute,
		AvailableTokens:   l.tokens,
		InFlight:          l.inFlight,
		MaxConcurrent:     l.maxConcurrent,
	}
}

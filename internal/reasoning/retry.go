package reasoning

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/ratelimit"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

// ErrUnavailable is returned after the retry budget is exhausted on
// rate-limited calls. Terminal for the item being processed.
var ErrUnavailable = errors.New("reasoning service unavailable after retries")

// ErrRateLimitTimeout is returned when no token and slot could be obtained
// within the wait budget. Terminal for the item, not for the job.
var ErrRateLimitTimeout = errors.New("timed out waiting for a rate limit slot")

// IsRateLimitError reports whether err is classified as a rate-limit error.
// Only this class is retried; everything else propagates immediately.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// RetryService wraps a Service with the global rate limiter and bounded
// retries with exponential backoff. Every attempt goes through the limiter
// and releases its slot before any backoff sleep.
type RetryService struct {
	svc     Service
	limiter *ratelimit.Limiter

	maxRetries  int
	baseBackoff time.Duration
	waitTimeout time.Duration
}

// RetryOption configures a RetryService.
type RetryOption func(*RetryService)

// WithMaxRetries overrides the retry budget (default 5).
func WithMaxRetries(n int) RetryOption {
	return func(r *RetryService) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithBaseBackoff overrides the base backoff (default 5s).
func WithBaseBackoff(d time.Duration) RetryOption {
	return func(r *RetryService) {
		if d > 0 {
			r.baseBackoff = d
		}
	}
}

// WithWaitTimeout overrides the limiter wait budget (default 5m).
func WithWaitTimeout(d time.Duration) RetryOption {
	return func(r *RetryService) {
		if d > 0 {
			r.waitTimeout = d
		}
	}
}

func NewRetryService(svc Service, limiter *ratelimit.Limiter, opts ...RetryOption) *RetryService {
	r := &RetryService{
		svc:         svc,
		limiter:     limiter,
		maxRetries:  5,
		baseBackoff: 5 * time.Second,
		waitTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generate performs one rate-limited call with retries on rate-limit errors.
func (r *RetryService) Generate(ctx context.Context, model string, parts []Part) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := r.limiter.WaitForAvailability(ctx, r.waitTimeout); err != nil {
			if errors.Is(err, ratelimit.ErrWaitTimeout) {
				return "", fmt.Errorf("%w: %v", ErrRateLimitTimeout, err)
			}
			return "", err
		}

		text, err := r.svc.Generate(ctx, model, parts)
		// The slot is released after every attempt, never held across the
		// backoff sleep.
		r.limiter.Release()

		if err == nil {
			return text, nil
		}
		if !IsRateLimitError(err) {
			return "", err
		}

		lastErr = err
		if attempt == r.maxRetries {
			break
		}

		sleep := backoffDuration(r.baseBackoff, attempt)
		log.Warn("Rate limit hit, retrying in %s (attempt %d/%d)", sleep.Round(time.Millisecond), attempt+1, r.maxRetries)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// backoffDuration computes base*2^attempt plus up to 10% jitter.
func backoffDuration(base time.Duration, attempt int) time.Duration {
	backoff := base << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(backoff)/10 + 1))
	return backoff + jitter
}

package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// rateLimitMiddleware applies a single process-wide token bucket. Non-positive rps disables it.
func rateLimitMiddleware(next http.Handler, rps float64, burst int, onLimited func()) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	retryAfter := strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow() {
			if onLimited != nil {
				onLimited()
			}
			w.Header().Set("Retry-After", retryAfter)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware bounds concurrent requests. A request waits up to wait for a slot
// and is rejected with 503 afterwards.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	sem := semaphore.NewWeighted(int64(maxInFlight))
	var inFlight atomic.Int64

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sem.TryAcquire(1) {
			if err := acquireWithin(r.Context(), sem, wait); err != nil {
				slog.WarnContext(r.Context(), "http_overloaded",
					"path", r.URL.Path,
					"in_flight", inFlight.Load(),
					"queue_wait_ms", wait.Milliseconds(),
					"error", err.Error(),
				)
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server is overloaded, retry later"})
				return
			}
		}
		inFlight.Add(1)
		defer func() {
			inFlight.Add(-1)
			sem.Release(1)
		}()
		next.ServeHTTP(w, r)
	})
}

func acquireWithin(ctx context.Context, sem *semaphore.Weighted, wait time.Duration) error {
	if wait <= 0 {
		return errors.New("no free slot")
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return sem.Acquire(waitCtx, 1)
}

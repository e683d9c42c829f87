package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/school-docs/internal/config"
)

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	fx := newRouterFixture(t, config.Config{
		APIRateLimitRPS:   1,
		APIRateLimitBurst: 1,
	})

	res1 := fx.do(httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil))
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	res2 := fx.do(httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil))
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}

	if res := fx.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); res.Code != http.StatusOK {
		t.Fatalf("healthz must bypass the limiter, got %d", res.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	calls := 0
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}), 0, 0, nil)

	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
		if res.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", res.Code)
		}
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected overload error message in response")
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}

func TestBackpressureMiddlewareAdmitsQueuedRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	first := make(chan int, 1)

	var calls atomic.Int32
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, time.Second)

	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
		first <- res.Code
	}()
	<-started

	time.AfterFunc(20*time.Millisecond, func() { close(release) })

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("queued request expected 204, got %d", res.Code)
	}
	if code := <-first; code != http.StatusNoContent {
		t.Fatalf("first request expected 204, got %d", code)
	}
}

func TestBackpressureMiddlewareStopsWaitingWhenClientLeaves(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	})
	handler := backpressureMiddleware(base, 1, time.Minute)

	go handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil).WithContext(ctx)

	begin := time.Now()
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("cancelled request waited %s for a slot", elapsed)
	}
}

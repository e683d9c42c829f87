package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/observability/logging"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	return cfg
}

func statusErr(code int) error {
	return &HTTPStatusError{Provider: "ocr", Operation: "analyze", StatusCode: code, Status: http.StatusText(code)}
}

func TestExecuteRetriesRetryableProviderStatus(t *testing.T) {
	cfg := fastConfig()
	cfg.BreakerEnabled = false
	exec := NewExecutor(cfg)

	attempts := 0
	err := exec.Execute(context.Background(), "ocr.analyze", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return statusErr(http.StatusServiceUnavailable)
		}
		return nil
	}, ClassifyHTTPError)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecutePermanentStatusIsNotRetriedNorCounted(t *testing.T) {
	cfg := fastConfig()
	cfg.BreakerMinRequests = 2
	exec := NewExecutor(cfg)

	calls := 0
	for i := 0; i < 4; i++ {
		err := exec.Execute(context.Background(), "vision.analyze", func(context.Context) error {
			calls++
			return statusErr(http.StatusNotFound)
		}, ClassifyHTTPError)
		var got *HTTPStatusError
		if !errors.As(err, &got) || got.StatusCode != http.StatusNotFound {
			t.Fatalf("call %d: expected 404 status error, got %v", i, err)
		}
	}
	if calls != 4 {
		t.Fatalf("expected one attempt per call and a closed breaker, got %d calls", calls)
	}
}

func TestExecuteAppliesStagePolicies(t *testing.T) {
	cfg := fastConfig()
	cfg.BreakerEnabled = false
	exec := NewExecutor(cfg)

	cases := map[string]int{
		"ocr.analyze":                 3,
		"ocr.poll":                    1,
		"vision.analyze":              1,
		"llm.openai.chat_completions": 2,
		"llm.ollama.generate":         2,
		"nats.publish":                3,
	}
	for op, want := range cases {
		attempts := 0
		_ = exec.Execute(context.Background(), op, func(context.Context) error {
			attempts++
			return statusErr(http.StatusBadGateway)
		}, ClassifyHTTPError)
		if attempts != want {
			t.Fatalf("%s: expected %d attempts, got %d", op, want, attempts)
		}
	}
}

func TestPolicyForMatchesLongestDottedPrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies["ocr"] = Policy{RetryMaxAttempts: 5}

	if p := cfg.policyFor("ocr.poll"); p.retryMaxAttempts != 1 || p.stage != "ocr" {
		t.Fatalf("ocr.poll: %+v", p)
	}
	if p := cfg.policyFor("ocr.analyze"); p.retryMaxAttempts != 5 {
		t.Fatalf("ocr.analyze: %+v", p)
	}
	if p := cfg.policyFor("ocr.pollster"); p.retryMaxAttempts != 5 {
		t.Fatalf("ocr.pollster must not match ocr.poll: %+v", p)
	}
	if p := cfg.policyFor("llmx.generate"); p.retryMaxAttempts != 3 || p.breakerFailureRatio != 0.5 {
		t.Fatalf("llmx.generate must use defaults: %+v", p)
	}
	if p := cfg.policyFor("llm.openai.chat_completions"); p.breakerMinRequests != 5 || p.breakerFailureRatio != 0.3 || p.stage != "llm" {
		t.Fatalf("llm policy: %+v", p)
	}
}

func TestBackoffGrowsUntilCap(t *testing.T) {
	cfg := DefaultConfig().normalize()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := cfg.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestLLMBreakerOpensBeforeOCRBreaker(t *testing.T) {
	exec := NewExecutor(fastConfig())
	failing := func(context.Context) error { return statusErr(http.StatusServiceUnavailable) }

	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "llm.ollama.generate", failing, ClassifyHTTPError)
		_ = exec.Execute(context.Background(), "ocr.analyze", failing, ClassifyHTTPError)
	}

	err := exec.Execute(context.Background(), "llm.ollama.generate", func(context.Context) error {
		t.Fatal("llm breaker should be open")
		return nil
	}, ClassifyHTTPError)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open llm breaker, got %v", err)
	}
	if state := exec.BreakerState("llm.ollama.generate"); state != gobreaker.StateOpen {
		t.Fatalf("llm breaker state = %s", state)
	}
	if state := exec.BreakerState("ocr.analyze"); state != gobreaker.StateClosed {
		t.Fatalf("ocr breaker state = %s", state)
	}
	if !domain.IsKind(WrapTemporaryIfNeeded("llm generate", err), domain.ErrTemporary) {
		t.Fatalf("open breaker must surface as temporary")
	}

	called := false
	_ = exec.Execute(context.Background(), "ocr.analyze", func(context.Context) error {
		called = true
		return nil
	}, ClassifyHTTPError)
	if !called {
		t.Fatal("ocr breaker must still be closed after 5 failures")
	}
}

func TestRetryLogCarriesStageAndDocument(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logging.NewJSONLoggerTo(&buf, "worker", "info"))
	defer slog.SetDefault(prev)

	cfg := fastConfig()
	cfg.BreakerEnabled = false
	exec := NewExecutor(cfg)
	ctx := domain.WithDocumentID(context.Background(), "doc-42")

	attempts := 0
	err := exec.Execute(ctx, "ocr.analyze", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return statusErr(http.StatusTooManyRequests)
		}
		return nil
	}, ClassifyHTTPError)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one retry log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "retry_attempt" || entry["stage"] != "ocr" || entry["document_id"] != "doc-42" || entry["operation"] != "ocr.analyze" {
		t.Fatalf("unexpected retry log: %+v", entry)
	}
}

func TestExecuteStopsWhenContextCancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.BreakerEnabled = false
	exec := NewExecutor(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := exec.Execute(ctx, "ocr.analyze", func(context.Context) error {
		attempts++
		cancel()
		return statusErr(http.StatusBadGateway)
	}, ClassifyHTTPError)
	if err == nil || attempts != 1 {
		t.Fatalf("expected a single attempt after cancellation, got %d attempts, err %v", attempts, err)
	}
}

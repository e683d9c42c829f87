package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor runs outbound provider calls with bounded retry and one circuit breaker per operation.
type Executor struct {
	cfg Config

	mu     sync.Mutex
	guards map[string]*guard
}

// guard holds the resolved policy of one operation and, when breakers are enabled, its breaker.
type guard struct {
	operation string
	policy    operationPolicy
	breaker   *gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:    cfg.normalize(),
		guards: make(map[string]*guard),
	}
}

// Execute calls fn under the policy of operation. Retry and breaker logs carry the stage (the
// first operation segment) and, through ctx, the document being processed.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return errors.New("resilience: nil call for operation " + operation)
	}
	if classifier == nil {
		classifier = defaultClassifier
	}
	g := e.guardFor(operationName(operation), classifier)

	if g.breaker == nil {
		return e.retry(ctx, g, fn, classifier)
	}
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, g, fn, classifier)
	})
	if IsCircuitOpen(err) {
		slog.WarnContext(ctx, "circuit_breaker_rejected",
			"operation", g.operation,
			"stage", g.policy.stage,
			"state", g.breaker.State().String(),
		)
	}
	return err
}

func operationName(operation string) string {
	if op := strings.TrimSpace(operation); op != "" {
		return op
	}
	return "unknown"
}

// retry runs fn until it succeeds, fails permanently, or the stage runs out of attempts.
func (e *Executor) retry(ctx context.Context, g *guard, fn func(context.Context) error, classify ErrorClassifier) error {
	maxAttempts := g.policy.retryMaxAttempts
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !classify(err).Retryable {
			return err
		}

		wait := e.cfg.backoff(attempt)
		slog.WarnContext(ctx, "retry_attempt",
			"operation", g.operation,
			"stage", g.policy.stage,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)
		if !pause(ctx, wait) {
			return err
		}
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// guardFor resolves the policy of operation once. The breaker judges failures with the
// classifier of the first call for that operation.
func (e *Executor) guardFor(operation string, classifier ErrorClassifier) *guard {
	e.mu.Lock()
	defer e.mu.Unlock()

	if g, ok := e.guards[operation]; ok {
		return g
	}
	g := &guard{operation: operation, policy: e.cfg.policyFor(operation)}
	if e.cfg.BreakerEnabled {
		g.breaker = gobreaker.NewCircuitBreaker[struct{}](e.breakerSettings(g, classifier))
	}
	e.guards[operation] = g
	return g
}

func (e *Executor) breakerSettings(g *guard, classifier ErrorClassifier) gobreaker.Settings {
	policy := g.policy
	return gobreaker.Settings{
		Name:        g.operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     policy.breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < policy.breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= policy.breakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelWarn
			if to == gobreaker.StateClosed {
				level = slog.LevelInfo
			}
			slog.Log(context.Background(), level, "circuit_breaker_state_change",
				"operation", name,
				"stage", policy.stage,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
}

// BreakerState reports the breaker state of operation; operations never executed are closed.
func (e *Executor) BreakerState(operation string) gobreaker.State {
	e.mu.Lock()
	g, ok := e.guards[operationName(operation)]
	e.mu.Unlock()
	if !ok || g.breaker == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

package resilience

import (
	"math"
	"strings"
	"time"
)

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	// Policies override retry and breaker settings by operation prefix. Operations are
	// dot-separated ("ocr.poll", "llm.openai.chat_completions") and the longest matching prefix wins.
	Policies map[string]Policy
}

// Policy overrides Config for one family of outbound calls. Zero fields inherit from Config.
type Policy struct {
	RetryMaxAttempts    int
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,

		Policies: DefaultPolicies(),
	}
}

// DefaultPolicies tunes the pipeline providers:
//   - ocr.poll is never retried here; each failed status check costs one poll of the OCR budget.
//   - vision gets a single attempt inside its stage timeout.
//   - llm trips its breaker early and stays open longer; the heuristic classifier answers meanwhile.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"ocr.poll": {RetryMaxAttempts: 1},
		"vision":   {RetryMaxAttempts: 1},
		"llm": {
			RetryMaxAttempts:    2,
			BreakerMinRequests:  5,
			BreakerFailureRatio: 0.3,
			BreakerOpenTimeout:  time.Minute,
		},
	}
}

// operationPolicy is the effective policy for one operation.
type operationPolicy struct {
	stage               string
	retryMaxAttempts    int
	breakerMinRequests  uint32
	breakerFailureRatio float64
	breakerOpenTimeout  time.Duration
}

func (c Config) policyFor(operation string) operationPolicy {
	out := operationPolicy{
		stage:               operation,
		retryMaxAttempts:    c.RetryMaxAttempts,
		breakerMinRequests:  c.BreakerMinRequests,
		breakerFailureRatio: c.BreakerFailureRatio,
		breakerOpenTimeout:  c.BreakerOpenTimeout,
	}
	if idx := strings.IndexByte(operation, '.'); idx > 0 {
		out.stage = operation[:idx]
	}

	matched := ""
	for prefix := range c.Policies {
		if (operation == prefix || strings.HasPrefix(operation, prefix+".")) && len(prefix) > len(matched) {
			matched = prefix
		}
	}
	if matched == "" {
		return out
	}

	p := c.Policies[matched]
	if p.RetryMaxAttempts > 0 {
		out.retryMaxAttempts = p.RetryMaxAttempts
	}
	if p.BreakerMinRequests > 0 {
		out.breakerMinRequests = p.BreakerMinRequests
	}
	if p.BreakerFailureRatio > 0 && p.BreakerFailureRatio <= 1 {
		out.breakerFailureRatio = p.BreakerFailureRatio
	}
	if p.BreakerOpenTimeout > 0 {
		out.breakerOpenTimeout = p.BreakerOpenTimeout
	}
	return out
}

// backoff is the pause after failed attempt n: RetryInitialBackoff grown by RetryMultiplier per
// attempt, capped at RetryMaxBackoff.
func (c Config) backoff(attempt int) time.Duration {
	d := float64(c.RetryInitialBackoff) * math.Pow(c.RetryMultiplier, float64(attempt-1))
	if d >= float64(c.RetryMaxBackoff) {
		return c.RetryMaxBackoff
	}
	return time.Duration(d)
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

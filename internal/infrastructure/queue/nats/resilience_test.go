package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name          string
		err           error
		retryable     bool
		recordFailure bool
	}{
		{name: "canceled", err: context.Canceled},
		{name: "no servers", err: fmt.Errorf("nats publish: %w", nats.ErrNoServers), retryable: true, recordFailure: true},
		{name: "connection closed", err: nats.ErrConnectionClosed, retryable: true, recordFailure: true},
		{name: "reconnect buffer", err: nats.ErrReconnectBufExceeded, retryable: true, recordFailure: true},
		{name: "reconnecting", err: nats.ErrConnectionReconnecting, retryable: true, recordFailure: true},
		{name: "bad subject", err: nats.ErrBadSubject},
		{name: "max payload", err: fmt.Errorf("nats publish: %w", nats.ErrMaxPayload)},
		{name: "unknown", err: errors.New("boom"), recordFailure: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.recordFailure {
				t.Fatalf("classifyNATSError(%v) = %+v", tc.err, got)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	err := wrapTemporaryIfNeeded("doc-9", fmt.Errorf("nats publish: %w", nats.ErrTimeout))
	if !domain.IsKind(err, domain.ErrTemporary) || !strings.Contains(err.Error(), "doc-9") {
		t.Fatalf("expected temporary error naming the document, got %v", err)
	}
	permanent := errors.New("nats publish: invalid subject")
	if err := wrapTemporaryIfNeeded("doc-9", permanent); err != permanent {
		t.Fatalf("expected permanent error unchanged, got %v", err)
	}
	if wrapTemporaryIfNeeded("doc-9", nil) != nil {
		t.Fatal("expected nil")
	}
}

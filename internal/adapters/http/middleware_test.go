package httpadapter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/school-docs/internal/config"
	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/observability/logging"
)

func captureLogs(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(logging.NewJSONLoggerTo(&buf, "api", level))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func logEntries(t *testing.T, buf *bytes.Buffer, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", scanner.Text(), err)
		}
		if entry["msg"] == msg {
			out = append(out, entry)
		}
	}
	return out
}

func TestAccessLogCarriesDocumentID(t *testing.T) {
	logs := captureLogs(t, "info")
	fx := newRouterFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res := fx.do(req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	entries := logEntries(t, logs, "http_request")
	if len(entries) != 1 {
		t.Fatalf("expected one access log line, got %d", len(entries))
	}
	if entries[0]["document_id"] != "doc-1" || entries[0]["request_id"] != "req-42" {
		t.Fatalf("unexpected access log attrs: %v", entries[0])
	}
}

func TestAccessLogDescribesCreatedUpload(t *testing.T) {
	logs := captureLogs(t, "info")
	fx := newRouterFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader(`{"title":"Trip","pages":["https://x/1.jpg","https://x/2.jpg"]}`))
	req.Header.Set("Content-Type", "application/json")
	res := fx.do(req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}

	entries := logEntries(t, logs, "http_request")
	if len(entries) != 1 {
		t.Fatalf("expected one access log line, got %d", len(entries))
	}
	entry := entries[0]
	if entry["upload_kind"] != "json" || entry["pages"] != float64(2) || entry["document_id"] != "doc-1" {
		t.Fatalf("unexpected access log attrs: %v", entry)
	}
	if _, ok := entry["request_bytes"]; !ok {
		t.Fatalf("expected request_bytes in %v", entry)
	}
}

func TestAccessLogDemotesHealthChecks(t *testing.T) {
	logs := captureLogs(t, "info")
	fx := newRouterFixture(t, config.Config{})

	res := fx.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if entries := logEntries(t, logs, "http_request"); len(entries) != 0 {
		t.Fatalf("health checks must not be logged at info: %v", entries)
	}
}

func TestOversizedUploadReturns413(t *testing.T) {
	logs := captureLogs(t, "info")
	fx := newRouterFixture(t, config.Config{APIMaxUploadBytes: 256})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "scan.png")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(bytes.Repeat([]byte("x"), 4096)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := fx.do(req)
	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", res.Code, res.Body.String())
	}
	if msg := decodeBody(t, res)["error"].(string); msg != "upload exceeds 256 bytes" {
		t.Fatalf("unexpected message %q", msg)
	}

	entries := logEntries(t, logs, "http_request")
	if len(entries) != 1 || entries[0]["upload_limit_bytes"] != float64(256) {
		t.Fatalf("expected upload limit in access log, got %v", entries)
	}
}

func TestServerErrorsHideCause(t *testing.T) {
	logs := captureLogs(t, "info")

	tests := []struct {
		name       string
		err        error
		status     int
		message    string
		retryAfter string
	}{
		{
			name:       "temporary",
			err:        domain.WrapError(domain.ErrTemporary, "publish document", errors.New("nats: connection closed")),
			status:     http.StatusServiceUnavailable,
			message:    "document service temporarily unavailable, retry later",
			retryAfter: "5",
		},
		{
			name:    "unexpected",
			err:     errors.New("pq: relation \"documents\" does not exist"),
			status:  http.StatusInternalServerError,
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.Reset()
			fx := newRouterFixture(t, config.Config{})
			fx.ingest.err = tt.err

			req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader(`{"pages":["https://x/p.jpg"]}`))
			req.Header.Set("Content-Type", "application/json")
			res := fx.do(req)
			if res.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, res.Code)
			}
			if got := res.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Fatalf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
			if msg := decodeBody(t, res)["error"].(string); msg != tt.message {
				t.Fatalf("unexpected message %q", msg)
			}

			failures := logEntries(t, logs, "http_handler_failed")
			if len(failures) != 1 || failures[0]["error"] != tt.err.Error() {
				t.Fatalf("expected cause in server log, got %v", failures)
			}
		})
	}
}

func TestClientErrorsKeepCause(t *testing.T) {
	fx := newRouterFixture(t, config.Config{})
	fx.status.err = domain.WrapError(domain.ErrInvalidTransition, "complete document doc-1", io.EOF)

	req := httptest.NewRequest(http.MethodPatch, "/v1/documents/doc-1", strings.NewReader(`{"status":"failed","error":"boom"}`))
	req.Header.Set("Content-Type", "application/json")
	res := fx.do(req)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	if msg := decodeBody(t, res)["error"].(string); !strings.Contains(msg, "complete document doc-1") {
		t.Fatalf("expected cause in client message, got %q", msg)
	}
}

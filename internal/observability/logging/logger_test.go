package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

func TestNewJSONLoggerToAddsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, "worker", "warn")

	logger.Info("skipped")
	logger.Warn("pipeline_vision_failed", "document_id", "doc-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "worker" || entry["msg"] != "pipeline_vision_failed" || entry["document_id"] != "doc-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONLoggerAddsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, "worker", "info")
	ctx := domain.WithDocumentID(domain.WithRequestID(context.Background(), "req-7"), "doc-7")

	logger.WarnContext(ctx, "retry_attempt", "operation", "ocr.analyze")
	logger.InfoContext(ctx, "pipeline_skip", "document_id", "explicit")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var first, second map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatal(err)
	}
	if first["request_id"] != "req-7" || first["document_id"] != "doc-7" || first["operation"] != "ocr.analyze" {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if second["document_id"] != "explicit" {
		t.Fatalf("explicit attr must win over context, got %+v", second)
	}
}

package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

func NewJSONLogger(service, level string) *slog.Logger {
	return NewJSONLoggerTo(os.Stdout, service, level)
}

// NewJSONLoggerTo is NewJSONLogger with an explicit sink. The MCP stdio server logs to stderr.
func NewJSONLoggerTo(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(contextHandler{Handler: handler}).With("service", service)
}

// contextHandler adds the request and document ids carried by ctx to records logged with the
// *Context variants, unless the record already sets them.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, record slog.Record) error {
	var hasRequest, hasDocument bool
	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "request_id":
			hasRequest = true
		case "document_id":
			hasDocument = true
		}
		return true
	})
	if id := domain.RequestIDFromContext(ctx); id != "" && !hasRequest {
		record.AddAttrs(slog.String("request_id", id))
	}
	if id := domain.DocumentIDFromContext(ctx); id != "" && !hasDocument {
		record.AddAttrs(slog.String("document_id", id))
	}
	return h.Handler.Handle(ctx, record)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

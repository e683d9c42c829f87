package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

// mapError returns the response status and the message shown to the client. Client errors keep
// their cause; server-side failures are logged and answered with a generic message.
func mapError(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "missing or invalid bearer token"
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound, err.Error()
	case domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable, "document service temporarily unavailable, retry later"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "http_handler_failed", "path", r.URL.Path, "status", status, "error", err.Error())
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, map[string]string{"error": message})
}

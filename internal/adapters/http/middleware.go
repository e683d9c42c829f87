package httpadapter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

const requestIDHeader = "X-Request-Id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		r = r.WithContext(domain.WithRequestID(r.Context(), requestID))
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r)
	})
}

// requestLog collects the attributes handlers attach to the access log line of their request.
type requestLog struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

type requestLogContextKey struct{}

// annotate attaches attrs to the access log line of the request carried by ctx.
func annotate(ctx context.Context, attrs ...slog.Attr) {
	rl, ok := ctx.Value(requestLogContextKey{}).(*requestLog)
	if !ok {
		return
	}
	rl.mu.Lock()
	rl.attrs = append(rl.attrs, attrs...)
	rl.mu.Unlock()
}

// withDocument scopes the request to one document: it is logged with the request and carried
// to the use cases and their outbound calls.
func withDocument(r *http.Request, documentID string) *http.Request {
	annotate(r.Context(), slog.String("document_id", documentID))
	return r.WithContext(domain.WithDocumentID(r.Context(), documentID))
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		rl := &requestLog{}
		r = r.WithContext(context.WithValue(r.Context(), requestLogContextKey{}, rl))

		next.ServeHTTP(rec, r)

		attrs := []slog.Attr{
			slog.String("request_id", domain.RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.statusCode),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
			slog.Int("bytes", rec.bytesWritten),
			slog.String("remote_addr", clientHost(r.RemoteAddr)),
			slog.String("user_agent", r.UserAgent()),
		}
		if r.Method == http.MethodPost && r.ContentLength > 0 {
			attrs = append(attrs, slog.Int64("request_bytes", r.ContentLength))
		}
		rl.mu.Lock()
		attrs = append(attrs, rl.attrs...)
		rl.mu.Unlock()

		slog.LogAttrs(r.Context(), accessLogLevel(r.URL.Path, rec.statusCode), "http_request", attrs...)
	})
}

// accessLogLevel logs health checks and metric scrapes at debug.
func accessLogLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case path == "/healthz" || path == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func clientHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/school-docs/internal/config"
	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
	"github.com/kirillkom/school-docs/internal/observability/metrics"
)

const (
	serviceName         = "api"
	multipartMemory     = 8 << 20
	defaultUploadLimit  = 50 << 20
	multipartFileField  = "file"
	multipartURLField   = "page_url"
	multipartTitleField = "title"
)

// FileStore serves stored page bytes back to OCR and vision providers.
type FileStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Router struct {
	cfg       config.Config
	ingest    ports.DocumentIngestor
	docs      ports.DocumentReader
	status    ports.StatusWriter
	files     FileStore
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	docs ports.DocumentReader,
	status ports.StatusWriter,
	files FileStore,
	opts ...RouterOption,
) (*Router, error) {
	validator, err := newRequestValidator(context.Background())
	if err != nil {
		return nil, err
	}
	rt := &Router{
		cfg:       cfg,
		ingest:    ingest,
		docs:      docs,
		status:    status,
		files:     files,
		validator: validator,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.createDocument)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("PATCH /v1/documents/{id}", rt.completeDocument)
	mux.HandleFunc("GET /v1/files/{key}", rt.getFile)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = rt.validator.middleware(mux)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onRateLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createDocumentRequest struct {
	Title string   `json:"title"`
	Pages []string `json:"pages"`
}

func (rt *Router) createDocument(w http.ResponseWriter, r *http.Request) {
	var (
		req  ports.CreateDocumentRequest
		kind string
	)
	if isMultipart(r) {
		files, err := rt.parseMultipart(w, r, &req)
		defer closeAll(files)
		if err != nil {
			writeError(w, r, err)
			return
		}
		kind = "multipart"
	} else {
		var body createDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		req.Title = body.Title
		req.PageURLs = body.Pages
		kind = "json"
	}

	annotate(r.Context(), slog.String("upload_kind", kind), slog.Int("pages", len(req.Uploads)+len(req.PageURLs)))
	doc, err := rt.ingest.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r.Context(), slog.String("document_id", doc.ID))
	if rt.metrics != nil {
		rt.metrics.RecordDocumentCreated(serviceName, kind)
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) parseMultipart(w http.ResponseWriter, r *http.Request, req *ports.CreateDocumentRequest) ([]multipart.File, error) {
	limit := rt.cfg.APIMaxUploadBytes
	if limit <= 0 {
		limit = defaultUploadLimit
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			annotate(r.Context(), slog.Int64("upload_limit_bytes", tooLarge.Limit))
			return nil, fmt.Errorf("parse upload: %w", tooLarge)
		}
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse upload", err)
	}

	req.Title = strings.TrimSpace(r.FormValue(multipartTitleField))
	req.PageURLs = r.MultipartForm.Value[multipartURLField]

	headers := r.MultipartForm.File[multipartFileField]
	files := make([]multipart.File, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			return files, fmt.Errorf("open uploaded file %q: %w", header.Filename, err)
		}
		files = append(files, file)
		req.Uploads = append(req.Uploads, ports.PageUpload{
			Filename: header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Body:     file,
		})
	}
	if len(req.Uploads) == 0 && len(req.PageURLs) == 0 {
		return files, domain.WrapError(domain.ErrInvalidInput, "parse upload", errors.New("multipart field 'file' is required"))
	}
	return files, nil
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		status  string
		docType string
		limit   *int
	)
	for _, p := range []struct {
		name string
		dest any
	}{
		{"status", &status},
		{"doc_type", &docType},
		{"limit", &limit},
	} {
		if err := runtime.BindQueryParameter("form", true, false, p.name, query, p.dest); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid parameter %q: %v", p.name, err)})
			return
		}
	}

	filter := domain.DocumentFilter{Status: domain.DocumentStatus(status)}
	if docType != "" {
		filter.DocType = domain.ParseDocType(docType)
	}
	if limit != nil {
		filter.Limit = *limit
	}

	docs, err := rt.docs.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	r = withDocument(r, id)
	doc, err := rt.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type statusUpdateRequest struct {
	Status     string                 `json:"status"`
	RawText    string                 `json:"raw_text"`
	DocType    string                 `json:"doc_type"`
	Confidence float64                `json:"confidence"`
	Tags       []string               `json:"tags"`
	Extracted  domain.ExtractedFields `json:"extracted"`
	Summary    string                 `json:"summary"`
	Source     string                 `json:"source"`
	Error      string                 `json:"error"`
}

func (rt *Router) completeDocument(w http.ResponseWriter, r *http.Request) {
	if token := rt.cfg.APIAuthToken; token != "" && !isAuthorizedBearerHeader(r.Header.Get("Authorization"), token) {
		writeError(w, r, domain.WrapError(domain.ErrUnauthorized, "complete document", errors.New("missing or invalid bearer token")))
		return
	}
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	r = withDocument(r, id)

	var body statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	annotate(r.Context(), slog.String("target_status", body.Status))

	doc, err := rt.status.Complete(r.Context(), id, domain.TerminalUpdate{
		Status:  domain.DocumentStatus(body.Status),
		RawText: body.RawText,
		Metadata: domain.Metadata{
			DocType:    domain.ParseDocType(body.DocType),
			Confidence: body.Confidence,
			Tags:       body.Tags,
			Extracted:  body.Extracted,
			Summary:    body.Summary,
			Source:     domain.ClassificationSource(body.Source),
		},
		Error: body.Error,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordStatusUpdate(serviceName, string(doc.Status))
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getFile(w http.ResponseWriter, r *http.Request) {
	key, ok := pathParam(w, r, "key")
	if !ok {
		return
	}
	annotate(r.Context(), slog.String("file_key", key))
	rc, err := rt.files.Open(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(key)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (rt *Router) onRateLimited() {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(serviceName)
	}
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, r.PathValue(name), &value, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil || strings.TrimSpace(value) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " is required"})
		return "", false
	}
	return value, true
}

func isAuthorizedBearerHeader(headerValue, expectedToken string) bool {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" || expectedToken == "" {
		return false
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	return token == expectedToken
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

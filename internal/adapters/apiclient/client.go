// Package apiclient talks to the documents HTTP API. It backs the upload tracker and the CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
	"github.com/kirillkom/school-docs/internal/infrastructure/resilience"
)

const provider = "documents-api"

type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	executor   *resilience.Executor
}

// New builds a client. Reads go through executor when it is non-nil; creates are never retried.
func New(cfg Config, executor *resilience.Executor) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

type createRequest struct {
	Title string   `json:"title,omitempty"`
	Pages []string `json:"pages"`
}

type listResponse struct {
	Documents []domain.Document `json:"documents"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateDocument posts page URLs as JSON, or everything as multipart when uploads are present.
func (c *Client) CreateDocument(ctx context.Context, req ports.CreateDocumentRequest) (*domain.Document, error) {
	var (
		body        []byte
		contentType string
		err         error
	)
	if len(req.Uploads) == 0 {
		body, err = json.Marshal(createRequest{Title: req.Title, Pages: req.PageURLs})
		if err != nil {
			return nil, fmt.Errorf("marshal create request: %w", err)
		}
		contentType = "application/json"
	} else {
		body, contentType, err = encodeMultipart(req)
		if err != nil {
			return nil, err
		}
	}

	var doc domain.Document
	if err := c.do(ctx, http.MethodPost, "/v1/documents", bytes.NewReader(body), contentType, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("document id is required"))
	}
	var doc domain.Document
	err := c.read(ctx, "apiclient.get_document", "/v1/documents/"+url.PathEscape(id), &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.DocType != "" {
		query.Set("doc_type", string(filter.DocType))
	}
	query.Set("limit", strconv.Itoa(filter.EffectiveLimit()))

	var resp listResponse
	if err := c.read(ctx, "apiclient.list_documents", "/v1/documents?"+query.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (c *Client) read(ctx context.Context, operation, path string, out any) error {
	call := func(callCtx context.Context) error {
		return c.do(callCtx, http.MethodGet, path, nil, "", out)
	}
	if c.executor == nil {
		return call(ctx)
	}
	err := c.executor.Execute(ctx, operation, call, classify)
	if err != nil {
		return resilience.WrapTemporaryIfNeeded(operation, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.WrapTemporaryIfNeeded(method+" "+path, fmt.Errorf("documents api request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(method, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode documents api response: %w", err)
	}
	return nil
}

// statusError maps API error statuses back onto the domain error kinds the server started from.
func statusError(method string, resp *http.Response) error {
	op := strings.ToLower(method) + " " + resp.Request.URL.Path
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var payload errorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	cause := errors.New(msg)

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return domain.WrapError(domain.ErrInvalidInput, op, cause)
	case http.StatusUnauthorized:
		return domain.WrapError(domain.ErrUnauthorized, op, cause)
	case http.StatusNotFound:
		return domain.WrapError(domain.ErrDocumentNotFound, op, cause)
	case http.StatusConflict:
		return domain.WrapError(domain.ErrInvalidTransition, op, cause)
	}
	statusErr := &resilience.HTTPStatusError{
		Provider:   provider,
		Operation:  op,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       msg,
	}
	if resilience.IsRetryableHTTPStatus(resp.StatusCode) {
		return domain.WrapError(domain.ErrTemporary, op, statusErr)
	}
	return statusErr
}

func classify(err error) resilience.ErrorClassification {
	switch {
	case domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrUnauthorized):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case domain.IsKind(err, domain.ErrTemporary):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ClassifyHTTPError(err)
}

func encodeMultipart(req ports.CreateDocumentRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if req.Title != "" {
		if err := writer.WriteField("title", req.Title); err != nil {
			return nil, "", fmt.Errorf("write title field: %w", err)
		}
	}
	for _, pageURL := range req.PageURLs {
		if err := writer.WriteField("page_url", pageURL); err != nil {
			return nil, "", fmt.Errorf("write page_url field: %w", err)
		}
	}
	for _, up := range req.Uploads {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, up.Filename))
		mimeType := up.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		header.Set("Content-Type", mimeType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, up.Body); err != nil {
			return nil, "", fmt.Errorf("copy %s: %w", up.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

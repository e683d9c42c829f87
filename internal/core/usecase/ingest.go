package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
)

const defaultTitle = "Untitled document"

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	now     func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		now:     time.Now,
	}
}

// Create stores uploaded pages, records the document as processing and enqueues it for the
// pipeline. A document whose event cannot be published is marked failed before returning.
func (uc *IngestDocumentUseCase) Create(ctx context.Context, req ports.CreateDocumentRequest) (*domain.Document, error) {
	pageCount := len(req.PageURLs) + len(req.Uploads)
	if pageCount == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create document", errors.New("at least one page is required"))
	}
	if pageCount > domain.MaxPages {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"create document",
			fmt.Errorf("too many pages: %d > %d", pageCount, domain.MaxPages),
		)
	}

	pages := make([]string, 0, pageCount)
	for _, raw := range req.PageURLs {
		pageURL, err := validatePageURL(raw)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "create document", err)
		}
		pages = append(pages, pageURL)
	}

	id := uuid.NewString()
	ctx = domain.WithDocumentID(ctx, id)
	for idx, upload := range req.Uploads {
		storageKey := fmt.Sprintf("%s_%02d_%s", id, idx+1, sanitizeFilename(upload.Filename))
		if err := uc.storage.Save(ctx, storageKey, upload.Body); err != nil {
			return nil, fmt.Errorf("save to object storage: %w", err)
		}
		pages = append(pages, uc.storage.URL(storageKey))
	}

	now := uc.now().UTC()
	doc := &domain.Document{
		ID:        id,
		Title:     documentTitle(req),
		Pages:     pages,
		Status:    domain.StatusProcessing,
		DocType:   domain.DocTypeOther,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		publishErr := fmt.Errorf("publish ingestion event: %w", err)
		if failErr := uc.repo.MarkFailed(context.WithoutCancel(ctx), doc.ID, publishErr.Error()); failErr != nil {
			return nil, fmt.Errorf("%w; mark failed status: %v", publishErr, failErr)
		}
		return nil, publishErr
	}

	return doc, nil
}

func validatePageURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid page url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("page url %q must be http or https", raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("page url %q has no host", raw)
	}
	return trimmed, nil
}

func documentTitle(req ports.CreateDocumentRequest) string {
	if title := strings.TrimSpace(req.Title); title != "" {
		return title
	}
	if len(req.Uploads) > 0 && strings.TrimSpace(req.Uploads[0].Filename) != "" {
		return filepath.Base(req.Uploads[0].Filename)
	}
	return defaultTitle
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "page.bin"
	}
	return base
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
)

const defaultFailureMessage = "document processing failed"

// CompleteDocumentUseCase performs externally requested terminal writes (PATCH /v1/documents/{id}).
type CompleteDocumentUseCase struct {
	repo ports.DocumentRepository
}

func NewCompleteDocumentUseCase(repo ports.DocumentRepository) *CompleteDocumentUseCase {
	return &CompleteDocumentUseCase{repo: repo}
}

func (uc *CompleteDocumentUseCase) Complete(ctx context.Context, id string, update domain.TerminalUpdate) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "complete document", errors.New("document id is required"))
	}
	switch update.Status {
	case domain.StatusProcessed, domain.StatusFailed:
	case domain.StatusProcessing:
		return nil, domain.WrapError(domain.ErrInvalidTransition, "complete document", errors.New("target status must be terminal"))
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "complete document", fmt.Errorf("unknown status %q", update.Status))
	}

	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	if !domain.CanTransition(doc.Status, update.Status) {
		return nil, domain.WrapError(
			domain.ErrInvalidTransition,
			"complete document",
			fmt.Errorf("%s -> %s", doc.Status, update.Status),
		)
	}

	switch update.Status {
	case domain.StatusProcessed:
		meta := update.Metadata
		meta.DocType = domain.ParseDocType(string(meta.DocType))
		meta.Confidence = domain.ClampConfidence(meta.Confidence)
		meta.Tags = domain.NormalizeTags(domain.MaxTags, meta.Tags)
		if err := uc.repo.MarkProcessed(ctx, id, update.RawText, meta); err != nil {
			return nil, fmt.Errorf("mark processed: %w", err)
		}
	case domain.StatusFailed:
		msg := strings.TrimSpace(update.Error)
		if msg == "" {
			msg = defaultFailureMessage
		}
		if err := uc.repo.MarkFailed(ctx, id, msg); err != nil {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
	}

	return uc.repo.GetByID(ctx, id)
}

package ports

import (
	"context"
	"io"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

// DocumentRepository persists and reads document state. MarkProcessed and MarkFailed are the only
// status writes and succeed only while the stored document is still processing.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)
	MarkProcessed(ctx context.Context, id, rawText string, meta domain.Metadata) error
	MarkFailed(ctx context.Context, id, errMessage string) error
}

// ObjectStorage stores uploaded page images.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	URL(key string) string
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor returns the recognized text of all pages of a document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// VisualAnalyzer returns objects, tags and a caption for one image.
type VisualAnalyzer interface {
	Analyze(ctx context.Context, imageURL string) (domain.VisualSignal, error)
}

// AIClassifier is the LLM-backed classifier. Errors are handled by the caller's fallback.
type AIClassifier interface {
	Classify(ctx context.Context, text string, visual domain.VisualSignal) (domain.ClassificationResult, error)
}

// PipelineObserver receives per-stage outcomes of document processing.
type PipelineObserver interface {
	ObserveStageFailure(stage string)
	ObserveClassifierSource(source domain.ClassificationSource)
}

package ports

import (
	"context"
	"io"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

// PageUpload is one uploaded page image handed to the ingestion gateway.
type PageUpload struct {
	Filename string
	MimeType string
	Body     io.Reader
}

// CreateDocumentRequest carries either already hosted page URLs or raw page uploads.
type CreateDocumentRequest struct {
	Title    string
	PageURLs []string
	Uploads  []PageUpload
}

// DocumentIngestor is the inbound contract for document creation (status=processing) and pipeline dispatch.
type DocumentIngestor interface {
	Create(ctx context.Context, req CreateDocumentRequest) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// StatusWriter performs the single terminal write of a document.
type StatusWriter interface {
	Complete(ctx context.Context, id string, update domain.TerminalUpdate) (*domain.Document, error)
}

// TextClassifier classifies text without touching any stored document.
type TextClassifier interface {
	ClassifyText(ctx context.Context, text string) domain.ClassificationResult
}

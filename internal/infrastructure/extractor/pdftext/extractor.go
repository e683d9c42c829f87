package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

const maxPDFBytes = 32 << 20

// PageRecognizer is the OCR provider seen by the extractor.
type PageRecognizer interface {
	RecognizeText(ctx context.Context, imageURL string) (string, error)
}

// PageStore resolves pages that live in local object storage.
type PageStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	KeyFromURL(url string) (string, bool)
}

// Extractor reads every page of a document in order. Locally stored PDFs are read through
// their text layer; everything else goes to OCR.
type Extractor struct {
	ocr   PageRecognizer
	store PageStore
}

func NewExtractor(ocr PageRecognizer, store PageStore) *Extractor {
	return &Extractor{ocr: ocr, store: store}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	texts := make([]string, 0, len(doc.Pages))
	for idx, page := range doc.Pages {
		text, err := e.extractPage(ctx, page)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", idx+1, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}

func (e *Extractor) extractPage(ctx context.Context, page string) (string, error) {
	if e.store != nil && strings.HasSuffix(strings.ToLower(page), ".pdf") {
		if key, ok := e.store.KeyFromURL(page); ok {
			return e.readPDF(ctx, key)
		}
	}
	if e.ocr == nil {
		return "", fmt.Errorf("no ocr provider configured for %s", page)
	}
	return e.ocr.RecognizeText(ctx, page)
}

func (e *Extractor) readPDF(ctx context.Context, key string) (string, error) {
	rc, err := e.store.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxPDFBytes+1))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if len(raw) > maxPDFBytes {
		return "", domain.WrapError(domain.ErrInvalidInput, "read pdf", fmt.Errorf("%s exceeds %d bytes", key, maxPDFBytes))
	}

	return PlainText(raw)
}

// PlainText returns the text layer of a PDF document.
func PlainText(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "parse pdf", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

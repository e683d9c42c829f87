package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
)

type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	extractor  ports.TextExtractor
	vision     ports.VisualAnalyzer
	classifier *ClassifyUseCase
	observer   ports.PipelineObserver
	limits     domain.PipelineLimits
}

// NewProcessDocumentUseCase accepts nil vision and observer.
func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	vision ports.VisualAnalyzer,
	classifier *ClassifyUseCase,
	observer ports.PipelineObserver,
	limits domain.PipelineLimits,
) *ProcessDocumentUseCase {
	if limits.OCRTimeout <= 0 {
		limits.OCRTimeout = 60 * time.Second
	}
	if limits.VisionTimeout <= 0 {
		limits.VisionTimeout = 20 * time.Second
	}
	if limits.ClassifyTimeout <= 0 {
		limits.ClassifyTimeout = 45 * time.Second
	}
	if limits.WriteTimeout <= 0 {
		limits.WriteTimeout = 10 * time.Second
	}
	if observer == nil {
		observer = noopObserver{}
	}

	return &ProcessDocumentUseCase{
		repo:       repo,
		extractor:  extractor,
		vision:     vision,
		classifier: classifier,
		observer:   observer,
		limits:     limits,
	}
}

// ProcessByID runs the pipeline once for a processing document and performs exactly one
// terminal write. Documents that already left processing are skipped.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	ctx = domain.WithDocumentID(ctx, documentID)
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Status != domain.StatusProcessing {
		slog.Info("pipeline_skip", "document_id", documentID, "status", string(doc.Status))
		return nil
	}

	text, visual, err := uc.extract(ctx, doc)
	if err != nil {
		uc.observer.ObserveStageFailure(domain.StageOCR)
		return uc.fail(ctx, documentID, err)
	}

	classifyCtx, cancel := context.WithTimeout(ctx, uc.limits.ClassifyTimeout)
	result := uc.classifier.Classify(classifyCtx, text, visual)
	cancel()
	uc.observer.ObserveClassifierSource(result.Source)
	if result.IsFallback() {
		slog.Info("pipeline_classifier_fallback", "document_id", documentID, "reason", result.FallbackReason)
	}

	meta := MergeMetadata(result, visual)

	writeCtx, cancelWrite := uc.writeContext(ctx)
	defer cancelWrite()
	if err := uc.repo.MarkProcessed(writeCtx, documentID, text, meta); err != nil {
		if domain.IsKind(err, domain.ErrInvalidTransition) {
			slog.Warn("pipeline_already_terminal", "document_id", documentID)
			return nil
		}
		uc.observer.ObserveStageFailure(domain.StageWrite)
		return uc.fail(ctx, documentID, fmt.Errorf("save metadata: %w", err))
	}

	slog.Info("pipeline_processed",
		"document_id", documentID,
		"doc_type", string(meta.DocType),
		"source", string(meta.Source),
		"tags", len(meta.Tags),
	)
	return nil
}

// extract runs OCR and visual analysis concurrently. Only OCR errors are returned.
func (uc *ProcessDocumentUseCase) extract(ctx context.Context, doc *domain.Document) (string, domain.VisualSignal, error) {
	var (
		text   string
		visual domain.VisualSignal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ocrCtx, cancel := context.WithTimeout(gctx, uc.limits.OCRTimeout)
		defer cancel()
		extracted, err := uc.extractor.Extract(ocrCtx, doc)
		if err != nil {
			return fmt.Errorf("extract text: %w", err)
		}
		text = extracted
		return nil
	})

	if page, ok := visionPage(doc); ok && uc.vision != nil {
		g.Go(func() error {
			visionCtx, cancel := context.WithTimeout(gctx, uc.limits.VisionTimeout)
			defer cancel()
			signal, err := uc.vision.Analyze(visionCtx, page)
			if err != nil {
				uc.observer.ObserveStageFailure(domain.StageVision)
				slog.Warn("pipeline_vision_failed", "document_id", doc.ID, "error", err.Error())
				return nil
			}
			visual = signal
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", domain.VisualSignal{}, err
	}
	return text, visual, nil
}

func visionPage(doc *domain.Document) (string, bool) {
	if len(doc.Pages) == 0 {
		return "", false
	}
	page := doc.Pages[0]
	if strings.HasSuffix(strings.ToLower(page), ".pdf") {
		return "", false
	}
	return page, true
}

func (uc *ProcessDocumentUseCase) fail(ctx context.Context, documentID string, processErr error) error {
	writeCtx, cancel := uc.writeContext(ctx)
	defer cancel()

	slog.Error("pipeline_failed", "document_id", documentID, "error", processErr.Error())
	if failErr := uc.repo.MarkFailed(writeCtx, documentID, processErr.Error()); failErr != nil {
		return fmt.Errorf("%w; mark failed status: %v", processErr, failErr)
	}
	return processErr
}

// writeContext survives cancellation of the invocation so the terminal write still happens.
func (uc *ProcessDocumentUseCase) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), uc.limits.WriteTimeout)
}

type noopObserver struct{}

func (noopObserver) ObserveStageFailure(string)                          {}
func (noopObserver) ObserveClassifierSource(domain.ClassificationSource) {}

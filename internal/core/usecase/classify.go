package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/heuristic"
	"github.com/kirillkom/school-docs/internal/core/ports"
)

const (
	fallbackSummary = "Basic analysis used: the AI classifier was unavailable, so keyword rules classified this document."
	fallbackTag     = "document"
)

// ClassifyUseCase runs the AI classifier and degrades to the heuristic classifier on any failure.
type ClassifyUseCase struct {
	ai        ports.AIClassifier
	heuristic *heuristic.Classifier
}

// NewClassifyUseCase accepts a nil ai, in which case every result is a fallback result.
func NewClassifyUseCase(ai ports.AIClassifier, h *heuristic.Classifier) *ClassifyUseCase {
	if h == nil {
		h = heuristic.NewDefault()
	}
	return &ClassifyUseCase{ai: ai, heuristic: h}
}

// Classify never fails. Source on the result is SourceAI or SourceFallback.
func (uc *ClassifyUseCase) Classify(ctx context.Context, text string, visual domain.VisualSignal) domain.ClassificationResult {
	if uc.ai == nil {
		return uc.fallback(text, visual, "ai classifier disabled")
	}

	result, err := uc.ai.Classify(ctx, text, visual)
	if err != nil {
		slog.Warn("classifier_fallback", "reason", err.Error())
		return uc.fallback(text, visual, err.Error())
	}

	result.Classification = domain.ParseDocType(string(result.Classification))
	result.Confidence = domain.ClampConfidence(result.Confidence)
	result.SuggestedTags = domain.NormalizeTags(0, result.SuggestedTags)
	result.Source = domain.SourceAI
	return result
}

// ClassifyText is the standalone heuristic path; it never calls the AI provider.
func (uc *ClassifyUseCase) ClassifyText(_ context.Context, text string) domain.ClassificationResult {
	return uc.heuristic.Classify(text)
}

func (uc *ClassifyUseCase) fallback(text string, visual domain.VisualSignal, reason string) domain.ClassificationResult {
	result := uc.heuristic.Classify(text)

	heuristicTags := result.SuggestedTags
	if result.Classification == domain.DocTypeOther && len(heuristicTags) > 0 {
		// "other" carries no information once the AI path failed.
		heuristicTags = heuristicTags[1:]
	}

	result.SuggestedTags = domain.NormalizeTags(0, heuristicTags, visual.SemanticTags, []string{fallbackTag})
	result.Summary = fallbackSummary
	result.Source = domain.SourceFallback
	result.FallbackReason = reason
	return result
}

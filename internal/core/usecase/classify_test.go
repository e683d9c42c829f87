package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

func TestClassifyAcceptsValidatedAIResult(t *testing.T) {
	ai := &aiFake{result: domain.ClassificationResult{
		Classification: "report card",
		Confidence:     -0.4,
		SuggestedTags:  []string{" Grades ", "grades", "Term-1"},
		Summary:        "First term report card.",
	}}
	uc := NewClassifyUseCase(ai, nil)

	res := uc.Classify(context.Background(), "Report card term 1", domain.VisualSignal{})
	if res.Classification != domain.DocTypeReportCard {
		t.Fatalf("expected Report Card, got %q", res.Classification)
	}
	if res.Confidence != 0 {
		t.Fatalf("expected confidence clamped to 0, got %v", res.Confidence)
	}
	if strings.Join(res.SuggestedTags, ",") != "grades,term-1" {
		t.Fatalf("unexpected tags %v", res.SuggestedTags)
	}
	if res.Source != domain.SourceAI || res.IsFallback() {
		t.Fatalf("expected ai source, got %q", res.Source)
	}
}

func TestClassifyCoercesUnknownAIClassToOther(t *testing.T) {
	uc := NewClassifyUseCase(&aiFake{result: domain.ClassificationResult{Classification: "Invoice", Confidence: 0.9}}, nil)
	res := uc.Classify(context.Background(), "Invoice #42", domain.VisualSignal{})
	if res.Classification != domain.DocTypeOther {
		t.Fatalf("expected Other, got %q", res.Classification)
	}
}

func TestClassifyFallbackEmptyTextAIUnreachable(t *testing.T) {
	uc := NewClassifyUseCase(&aiFake{err: errors.New("connection refused")}, nil)

	res := uc.Classify(context.Background(), "", domain.VisualSignal{})
	if res.Classification != domain.DocTypeOther || res.Confidence != 0.3 {
		t.Fatalf("unexpected fallback result: %+v", res)
	}
	if strings.Join(res.SuggestedTags, ",") != "document" {
		t.Fatalf("expected [document], got %v", res.SuggestedTags)
	}
	if !res.IsFallback() || res.FallbackReason != "connection refused" {
		t.Fatalf("expected fallback with reason, got source=%q reason=%q", res.Source, res.FallbackReason)
	}
	if !strings.Contains(res.Summary, "Basic analysis used") {
		t.Fatalf("expected basic analysis summary, got %q", res.Summary)
	}
}

func TestClassifyFallbackMergesVisualTags(t *testing.T) {
	uc := NewClassifyUseCase(&aiFake{err: errors.New("llm status 500")}, nil)
	visual := domain.VisualSignal{
		SemanticTags:    []string{"cake", "food"},
		DetectedObjects: []domain.DetectedObject{{Name: "cake", Confidence: 0.8}},
	}

	res := uc.Classify(context.Background(), "Bake sale flyer", visual)
	if res.Classification != domain.DocTypeFlyer {
		t.Fatalf("expected Flyer, got %q", res.Classification)
	}

	meta := MergeMetadata(res, visual)
	for _, want := range []string{"flyer", "cake", "food", "document"} {
		if !containsString(meta.Tags, want) {
			t.Fatalf("expected tag %q in %v", want, meta.Tags)
		}
	}
	if meta.Tags[0] != "flyer" {
		t.Fatalf("expected heuristic classification tag first, got %v", meta.Tags)
	}
	assertUnique(t, meta.Tags)
}

func TestClassifyWithoutAIProviderUsesFallback(t *testing.T) {
	uc := NewClassifyUseCase(nil, nil)
	res := uc.Classify(context.Background(), "Permission slip for the zoo", domain.VisualSignal{})
	if res.Classification != domain.DocTypePermissionSlip || !res.IsFallback() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.SuggestedTags[0] != "permission slip" || res.SuggestedTags[len(res.SuggestedTags)-1] != "document" {
		t.Fatalf("unexpected fallback tags: %v", res.SuggestedTags)
	}
}

func TestClassifyTextUsesHeuristicOnly(t *testing.T) {
	ai := &aiFake{err: errors.New("must not be called")}
	res := NewClassifyUseCase(ai, nil).ClassifyText(context.Background(), "Homework packet")
	if res.Source != domain.SourceHeuristic || res.Classification != domain.DocTypeHomework {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ai.text != "" {
		t.Fatalf("ai classifier was called")
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func assertUnique(t *testing.T, tags []string) {
	t.Helper()
	seen := map[string]bool{}
	for _, tag := range tags {
		if seen[tag] {
			t.Fatalf("duplicate tag %q in %v", tag, tags)
		}
		seen[tag] = true
	}
}

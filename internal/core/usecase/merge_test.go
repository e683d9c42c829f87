package usecase

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

func TestMergeMetadataOrdersDedupesAndCaps(t *testing.T) {
	result := domain.ClassificationResult{
		Classification: domain.DocTypeFlyer,
		Confidence:     0.9,
		SuggestedTags:  []string{"Flyer", "pta", "fundraiser"},
		Extracted:      domain.ExtractedFields{EventDate: "2024-11-02", Teacher: "Mr. Lee"},
		Summary:        "PTA fundraiser.",
		Source:         domain.SourceAI,
	}
	visual := domain.VisualSignal{SemanticTags: []string{"PTA", "poster"}}
	for i := 0; i < 8; i++ {
		visual.DetectedObjects = append(visual.DetectedObjects, domain.DetectedObject{Name: fmt.Sprintf("obj%d", i)})
	}

	meta := MergeMetadata(result, visual)
	want := "flyer,pta,fundraiser,poster,obj0,obj1,obj2,obj3,obj4,obj5"
	if strings.Join(meta.Tags, ",") != want {
		t.Fatalf("tags = %v, want %s", meta.Tags, want)
	}
	if len(meta.Tags) > domain.MaxTags {
		t.Fatalf("expected at most %d tags, got %d", domain.MaxTags, len(meta.Tags))
	}
	if meta.Extracted != result.Extracted || meta.Summary != result.Summary || meta.Source != domain.SourceAI {
		t.Fatalf("expected extracted fields copied as-is, got %+v", meta)
	}
}

func TestMergeMetadataNeverExceedsBoundsForAnyInput(t *testing.T) {
	inputs := [][]string{
		nil,
		{"", "  "},
		{"A", "a", "A "},
		strings.Fields(strings.Repeat("x y z ", 30)),
		strings.Fields("a b c d e f g h i j k l m n o p"),
	}
	for _, tags := range inputs {
		meta := MergeMetadata(
			domain.ClassificationResult{Classification: "nonsense", Confidence: 7, SuggestedTags: tags},
			domain.VisualSignal{SemanticTags: tags},
		)
		if len(meta.Tags) > domain.MaxTags {
			t.Fatalf("too many tags for %v: %v", tags, meta.Tags)
		}
		assertUnique(t, meta.Tags)
		if meta.DocType != domain.DocTypeOther || meta.Confidence != 1 {
			t.Fatalf("expected coerced type and clamped confidence, got %+v", meta)
		}
	}
}

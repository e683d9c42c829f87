package usecase

import "github.com/kirillkom/school-docs/internal/core/domain"

// MergeMetadata combines a classification result with the visual signal into the values written
// onto the document. Tags keep suggested, semantic and object order, deduplicated and capped.
func MergeMetadata(result domain.ClassificationResult, visual domain.VisualSignal) domain.Metadata {
	objects := make([]string, 0, len(visual.DetectedObjects))
	for _, obj := range visual.DetectedObjects {
		objects = append(objects, obj.Name)
	}

	return domain.Metadata{
		DocType:    domain.ParseDocType(string(result.Classification)),
		Confidence: domain.ClampConfidence(result.Confidence),
		Tags:       domain.NormalizeTags(domain.MaxTags, result.SuggestedTags, visual.SemanticTags, objects),
		Extracted:  result.Extracted,
		Summary:    result.Summary,
		Source:     result.Source,
	}
}

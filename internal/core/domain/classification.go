package domain

// ClassificationSource records which classifier produced a result.
type ClassificationSource string

const (
	SourceAI        ClassificationSource = "ai"
	SourceFallback  ClassificationSource = "fallback"
	SourceHeuristic ClassificationSource = "heuristic"
)

type ExtractedFields struct {
	DueDate    string `json:"dueDate,omitempty"`
	EventDate  string `json:"eventDate,omitempty"`
	Teacher    string `json:"teacher,omitempty"`
	Subject    string `json:"subject,omitempty"`
	GradeLevel string `json:"gradeLevel,omitempty"`
	Urgency    string `json:"urgency,omitempty"`
}

// ClassificationResult has the same shape whether it came from the LLM or the heuristic fallback.
type ClassificationResult struct {
	Classification DocType              `json:"classification"`
	Confidence     float64              `json:"confidence"`
	Extracted      ExtractedFields      `json:"extracted"`
	SuggestedTags  []string             `json:"suggestedTags"`
	Summary        string               `json:"summary"`
	Source         ClassificationSource `json:"source"`
	FallbackReason string               `json:"-"`
}

func (r ClassificationResult) IsFallback() bool {
	return r.Source == SourceFallback
}

func ClampConfidence(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

type DetectedObject struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// VisualSignal is optional context from an image-understanding provider. The zero value is the empty signal.
type VisualSignal struct {
	DetectedObjects  []DetectedObject `json:"detectedObjects"`
	SemanticTags     []string         `json:"semanticTags"`
	ImageDescription string           `json:"imageDescription"`
}

func (v VisualSignal) IsEmpty() bool {
	return len(v.DetectedObjects) == 0 && len(v.SemanticTags) == 0 && v.ImageDescription == ""
}

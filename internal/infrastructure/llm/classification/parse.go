package classification

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/heuristic"
)

//go:embed schema.json
var schemaJSON []byte

// ErrInvalidResponse marks model output that is not a usable classification.
var ErrInvalidResponse = errors.New("invalid classifier response")

var responseSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("classification: add schema: %v", err))
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("classification: compile schema: %v", err))
	}
	return schema
}

type response struct {
	Classification string   `json:"classification"`
	Confidence     float64  `json:"confidence"`
	Extracted      fields   `json:"extracted"`
	SuggestedTags  []string `json:"suggestedTags"`
	Summary        string   `json:"summary"`
}

type fields struct {
	DueDate    *string `json:"dueDate"`
	EventDate  *string `json:"eventDate"`
	Teacher    *string `json:"teacher"`
	Subject    *string `json:"subject"`
	GradeLevel *string `json:"gradeLevel"`
	Urgency    *string `json:"urgency"`
}

// Parse validates a model reply and converts it into a result. refYear completes dates that
// carry no year.
func Parse(raw string, refYear int) (domain.ClassificationResult, error) {
	content := []byte(ExtractJSONObject(raw))

	var generic any
	if err := json.Unmarshal(content, &generic); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("%w: parse json: %v", ErrInvalidResponse, err)
	}
	if err := responseSchema.Validate(generic); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("%w: json does not match schema: %v", ErrInvalidResponse, err)
	}

	var resp response
	if err := json.Unmarshal(content, &resp); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("%w: decode fields: %v", ErrInvalidResponse, err)
	}

	return domain.ClassificationResult{
		Classification: domain.ParseDocType(resp.Classification),
		Confidence:     domain.ClampConfidence(resp.Confidence),
		Extracted: domain.ExtractedFields{
			DueDate:    normalizeDate(resp.Extracted.DueDate, refYear),
			EventDate:  normalizeDate(resp.Extracted.EventDate, refYear),
			Teacher:    value(resp.Extracted.Teacher),
			Subject:    value(resp.Extracted.Subject),
			GradeLevel: value(resp.Extracted.GradeLevel),
			Urgency:    strings.ToLower(value(resp.Extracted.Urgency)),
		},
		SuggestedTags: domain.NormalizeTags(0, resp.SuggestedTags),
		Summary:       strings.TrimSpace(resp.Summary),
		Source:        domain.SourceAI,
	}, nil
}

// ExtractJSONObject strips markdown fences and surrounding prose around the outermost object.
func ExtractJSONObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func normalizeDate(s *string, refYear int) string {
	v := value(s)
	if v == "" {
		return ""
	}
	return heuristic.NormalizeDate(v, refYear)
}

// Package classification holds the provider-independent half of the LLM classifier: the prompt
// and the validation of the model's JSON reply.
package classification

import (
	"fmt"
	"strings"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

const maxTextRunes = 4000

const systemPrompt = `You classify photographed school documents for parents.
Return one strict JSON object and nothing else, with keys:
classification (one of: Homework, Permission Slip, Flyer, Report Card, Other),
confidence (number from 0 to 1),
extracted (object with optional keys dueDate, eventDate as YYYY-MM-DD, teacher, subject, gradeLevel, urgency as low|medium|high),
suggestedTags (array of 3 to 8 short lowercase tags),
summary (one sentence).
Use null for unknown extracted values. No markdown.`

// BuildPrompt returns the system and user messages for one document.
func BuildPrompt(text string, visual domain.VisualSignal) (string, string) {
	var b strings.Builder
	b.WriteString("OCR text:\n")
	if strings.TrimSpace(text) == "" {
		b.WriteString("(no text recognized)\n")
	} else {
		b.WriteString(truncateRunes(text, maxTextRunes))
		b.WriteString("\n")
	}

	if !visual.IsEmpty() {
		b.WriteString("\nVisual context from image analysis:\n")
		if len(visual.DetectedObjects) > 0 {
			b.WriteString("Objects: ")
			for idx, obj := range visual.DetectedObjects {
				if idx > 0 {
					b.WriteString(", ")
				}
				b.WriteString(fmt.Sprintf("%s (%.2f)", obj.Name, obj.Confidence))
			}
			b.WriteString("\n")
		}
		if len(visual.SemanticTags) > 0 {
			b.WriteString("Tags: ")
			b.WriteString(strings.Join(visual.SemanticTags, ", "))
			b.WriteString("\n")
		}
		if visual.ImageDescription != "" {
			b.WriteString("Caption: ")
			b.WriteString(visual.ImageDescription)
			b.WriteString("\n")
		}
	}

	return systemPrompt, b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

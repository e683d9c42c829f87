// Package heuristic is the deterministic, dependency-free classifier used on its own and as the
// fallback when the LLM classifier is unavailable.
package heuristic

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

const (
	matchedConfidence   = 0.6
	unmatchedConfidence = 0.3
)

var (
	teacherLabel   = regexp.MustCompile(`(?i)teacher:\s*([^\n,;]+)`)
	teacherTitle   = regexp.MustCompile(`\b(Mr|Mrs|Ms|Mx)\.?\s+([A-Z][A-Za-z'-]+)`)
	subjectLabel   = regexp.MustCompile(`(?i)subject:\s*([^\n,;]+)`)
	gradeLevelExpr = regexp.MustCompile(`(?i)\b(\d+)(st|nd|rd|th)\s+grade\b`)
)

type Classifier struct {
	rules    []compiledRule
	subjects []compiledSubject
	keywords []compiledKeyword
	now      func() time.Time
}

type Option func(*Classifier)

// WithClock sets the reference time used for date literals that carry no year.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

func New(rules Rules, opts ...Option) *Classifier {
	classRules, subjects, keywords := rules.compile()
	c := &Classifier{
		rules:    classRules,
		subjects: subjects,
		keywords: keywords,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func NewDefault(opts ...Option) *Classifier {
	return New(DefaultRules(), opts...)
}

// ClassifyType applies the ordered rules; the first rule with a matching pattern wins.
func (c *Classifier) ClassifyType(text string) (domain.DocType, bool) {
	lower := strings.ToLower(text)
	for _, rule := range c.rules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.docType, true
			}
		}
	}
	return domain.DocTypeOther, false
}

func (c *Classifier) Classify(text string) domain.ClassificationResult {
	docType, matched := c.ClassifyType(text)
	confidence := unmatchedConfidence
	if matched {
		confidence = matchedConfidence
	}

	extracted := c.extractDates(text, docType)
	extracted.Teacher = extractTeacher(text)
	extracted.Subject = c.extractSubject(text)
	if m := gradeLevelExpr.FindStringSubmatch(text); m != nil {
		extracted.GradeLevel = m[1] + strings.ToLower(m[2]) + " grade"
	}

	return domain.ClassificationResult{
		Classification: docType,
		Confidence:     confidence,
		Extracted:      extracted,
		SuggestedTags:  c.tags(text, docType, extracted),
		Summary:        fmt.Sprintf("Classified as %s using keyword analysis.", docType),
		Source:         domain.SourceHeuristic,
	}
}

func (c *Classifier) extractDates(text string, docType domain.DocType) domain.ExtractedFields {
	var out domain.ExtractedFields
	dates := findDates(text)
	if len(dates) == 0 {
		return out
	}
	first := NormalizeDate(dates[0], c.now().Year())

	hasDue := dueContext.MatchString(text)
	hasEvent := eventContext.MatchString(text)
	if hasDue {
		out.DueDate = first
	}
	if hasEvent {
		out.EventDate = first
	}
	if !hasDue && !hasEvent {
		switch docType {
		case domain.DocTypeHomework:
			out.DueDate = first
		case domain.DocTypeFlyer:
			out.EventDate = first
		}
	}
	return out
}

func extractTeacher(text string) string {
	if m := teacherLabel.FindStringSubmatch(text); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	if m := teacherTitle.FindStringSubmatch(text); m != nil {
		return m[1] + ". " + m[2]
	}
	return ""
}

func (c *Classifier) extractSubject(text string) string {
	if m := subjectLabel.FindStringSubmatch(text); m != nil {
		if subject := strings.TrimSpace(m[1]); subject != "" {
			return subject
		}
	}

	best, bestAt := "", -1
	for _, s := range c.subjects {
		loc := s.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if bestAt == -1 || loc[0] < bestAt {
			best, bestAt = s.name, loc[0]
		}
	}
	if best == "" {
		return ""
	}
	return capitalize(best)
}

func (c *Classifier) tags(text string, docType domain.DocType, extracted domain.ExtractedFields) []string {
	tags := []string{strings.ToLower(string(docType))}
	if extracted.Subject != "" {
		tags = append(tags, extracted.Subject)
	}
	if last := lastName(extracted.Teacher); last != "" {
		tags = append(tags, last)
	}
	for _, kw := range c.keywords {
		if kw.re.MatchString(text) {
			tags = append(tags, kw.tag)
		}
	}
	if m := gradeLevelExpr.FindStringSubmatch(text); m != nil {
		tags = append(tags, m[1]+strings.ToLower(m[2])+"-grade")
	}
	return domain.NormalizeTags(0, tags)
}

func lastName(teacher string) string {
	fields := strings.Fields(teacher)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[len(fields)-1], ".,;:"))
}

func capitalize(s string) string {
	if s == "pe" {
		return "PE"
	}
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

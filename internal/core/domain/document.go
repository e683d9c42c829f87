package domain

import (
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// CanTransition is the whole document status machine: processing -> processed | failed.
func CanTransition(from, to DocumentStatus) bool {
	return from == StatusProcessing && to.IsTerminal()
}

type DocType string

const (
	DocTypeHomework       DocType = "Homework"
	DocTypePermissionSlip DocType = "Permission Slip"
	DocTypeFlyer          DocType = "Flyer"
	DocTypeReportCard     DocType = "Report Card"
	DocTypeOther          DocType = "Other"
)

var docTypes = []DocType{
	DocTypeHomework,
	DocTypePermissionSlip,
	DocTypeFlyer,
	DocTypeReportCard,
	DocTypeOther,
}

func DocTypes() []DocType {
	out := make([]DocType, len(docTypes))
	copy(out, docTypes)
	return out
}

// ParseDocType matches raw against the fixed enum case-insensitively; anything else is Other.
func ParseDocType(raw string) DocType {
	trimmed := strings.TrimSpace(raw)
	for _, t := range docTypes {
		if strings.EqualFold(trimmed, string(t)) {
			return t
		}
	}
	return DocTypeOther
}

type Document struct {
	ID               string               `json:"id"`
	Title            string               `json:"title"`
	Pages            []string             `json:"pages"`
	RawText          string               `json:"raw_text,omitempty"`
	Status           DocumentStatus       `json:"status"`
	DocType          DocType              `json:"doc_type"`
	Confidence       float64              `json:"confidence,omitempty"`
	Tags             []string             `json:"tags"`
	DueDate          string               `json:"due_date,omitempty"`
	EventDate        string               `json:"event_date,omitempty"`
	Teacher          string               `json:"teacher,omitempty"`
	Subject          string               `json:"subject,omitempty"`
	GradeLevel       string               `json:"grade_level,omitempty"`
	Urgency          string               `json:"urgency,omitempty"`
	Summary          string               `json:"summary,omitempty"`
	ClassifierSource ClassificationSource `json:"classifier_source,omitempty"`
	Error            string               `json:"error,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Metadata is the merged pipeline output written by the single terminal transition to processed.
type Metadata struct {
	DocType    DocType              `json:"doc_type"`
	Confidence float64              `json:"confidence"`
	Tags       []string             `json:"tags"`
	Extracted  ExtractedFields      `json:"extracted"`
	Summary    string               `json:"summary"`
	Source     ClassificationSource `json:"source"`
}

// ApplyMetadata copies merged metadata onto the document without touching its status.
func (d *Document) ApplyMetadata(meta Metadata) {
	d.DocType = meta.DocType
	d.Confidence = meta.Confidence
	d.Tags = meta.Tags
	d.DueDate = meta.Extracted.DueDate
	d.EventDate = meta.Extracted.EventDate
	d.Teacher = meta.Extracted.Teacher
	d.Subject = meta.Extracted.Subject
	d.GradeLevel = meta.Extracted.GradeLevel
	d.Urgency = meta.Extracted.Urgency
	d.Summary = meta.Summary
	d.ClassifierSource = meta.Source
}

// TerminalUpdate is the body of the one write that moves a document out of processing.
type TerminalUpdate struct {
	Status   DocumentStatus
	RawText  string
	Metadata Metadata
	Error    string
}

const DefaultListLimit = 50

// MaxPages bounds the pages of one document.
const MaxPages = 20

type DocumentFilter struct {
	Status  DocumentStatus
	DocType DocType
	Limit   int
}

// EffectiveLimit returns Limit bounded to [1, 500], DefaultListLimit when unset.
func (f DocumentFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > 500:
		return 500
	default:
		return f.Limit
	}
}

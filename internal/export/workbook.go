// Package export renders documents into an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

const (
	documentsSheet = "Documents"
	summarySheet   = "Summary"
	maxCellText    = 500
)

// Lister is satisfied by the repositories and by the API client.
type Lister interface {
	List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)
}

type Service struct {
	docs Lister
}

func NewService(docs Lister) *Service {
	return &Service{docs: docs}
}

var documentHeaders = []string{
	"ID",
	"Title",
	"Status",
	"Type",
	"Confidence",
	"Due Date",
	"Event Date",
	"Teacher",
	"Subject",
	"Grade Level",
	"Tags",
	"Summary",
	"Error",
	"Created At",
}

// ExportXLSX returns a workbook with one row per document and a per-type summary sheet.
func (s *Service) ExportXLSX(ctx context.Context, filter domain.DocumentFilter) ([]byte, error) {
	start := time.Now()

	docs, err := s.docs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", documentsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeDocuments(f, docs); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}
	if err := writeSummary(f, docs); err != nil {
		return nil, err
	}
	index, _ := f.GetSheetIndex(documentsSheet)
	f.SetActiveSheet(index)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("export_xlsx_ok",
		"rows", len(docs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeDocuments(f *excelize.File, docs []domain.Document) error {
	header := make([]any, len(documentHeaders))
	for i, h := range documentHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(documentsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, doc := range docs {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			doc.ID,
			doc.Title,
			string(doc.Status),
			string(doc.DocType),
			doc.Confidence,
			doc.DueDate,
			doc.EventDate,
			doc.Teacher,
			doc.Subject,
			doc.GradeLevel,
			strings.Join(doc.Tags, ", "),
			truncate(doc.Summary, maxCellText),
			truncate(doc.Error, maxCellText),
			doc.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(documentsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(documentHeaders), 1)
		_ = f.SetCellStyle(documentsSheet, "A1", last, style)
	}
	_ = f.SetPanes(documentsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	_ = f.SetColWidth(documentsSheet, "A", "A", 28)
	_ = f.SetColWidth(documentsSheet, "B", "B", 32)
	_ = f.SetColWidth(documentsSheet, "C", "E", 14)
	_ = f.SetColWidth(documentsSheet, "F", "G", 12)
	_ = f.SetColWidth(documentsSheet, "H", "J", 18)
	_ = f.SetColWidth(documentsSheet, "K", "K", 36)
	_ = f.SetColWidth(documentsSheet, "L", "M", 60)
	_ = f.SetColWidth(documentsSheet, "N", "N", 22)
	return nil
}

// writeSummary counts documents per type and status. Every type gets a row, including zeros.
func writeSummary(f *excelize.File, docs []domain.Document) error {
	counts := make(map[domain.DocType]map[domain.DocumentStatus]int)
	for _, t := range domain.DocTypes() {
		counts[t] = map[domain.DocumentStatus]int{}
	}
	for _, doc := range docs {
		byStatus, ok := counts[doc.DocType]
		if !ok {
			byStatus = map[domain.DocumentStatus]int{}
			counts[doc.DocType] = byStatus
		}
		byStatus[doc.Status]++
	}

	types := make([]domain.DocType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	order := make(map[domain.DocType]int)
	for i, t := range domain.DocTypes() {
		order[t] = i
	}
	sort.Slice(types, func(i, j int) bool {
		oi, iok := order[types[i]]
		oj, jok := order[types[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return types[i] < types[j]
	})

	header := []any{"Type", "Processing", "Processed", "Failed", "Total"}
	if err := f.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for i, t := range types {
		byStatus := counts[t]
		processing := byStatus[domain.StatusProcessing]
		processed := byStatus[domain.StatusProcessed]
		failed := byStatus[domain.StatusFailed]
		row := []any{string(t), processing, processed, failed, processing + processed + failed}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	return nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

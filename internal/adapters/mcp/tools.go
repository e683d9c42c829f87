// Package mcpadapter exposes the document read model and the keyword classifier as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
)

const (
	serverName    = "school-docs"
	serverVersion = "1.0.0"

	defaultListLimit = 20
	maxClassifyText  = 64 << 10
)

// ToolDefs returns the MCP tool definitions in registration order.
func ToolDefs() []mcp.Tool {
	docTypes := make([]string, 0, len(domain.DocTypes()))
	for _, t := range domain.DocTypes() {
		docTypes = append(docTypes, string(t))
	}

	return []mcp.Tool{
		{
			Name:        "get_document",
			Description: "Get a school document by ID, including its processing status, classification, tags and extracted dates.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"document_id": map[string]any{
						"type":        "string",
						"description": "The document ID returned when the document was uploaded",
					},
				},
				Required: []string{"document_id"},
			},
		},
		{
			Name:        "list_documents",
			Description: "List school documents, newest first. Optionally filter by status or document type.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"status": map[string]any{
						"type":        "string",
						"description": "Only documents in this status",
						"enum":        []string{string(domain.StatusProcessing), string(domain.StatusProcessed), string(domain.StatusFailed)},
					},
					"doc_type": map[string]any{
						"type":        "string",
						"description": "Only documents of this type",
						"enum":        docTypes,
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results (default 20, max 500)",
						"default":     defaultListLimit,
					},
				},
			},
		},
		{
			Name:        "classify_text",
			Description: "Classify a piece of school document text with the keyword rules. Returns type, confidence, extracted dates, teacher, subject and suggested tags. Nothing is stored.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "Recognized text of the document",
					},
				},
				Required: []string{"text"},
			},
		},
	}
}

type Handlers struct {
	docs       ports.DocumentReader
	classifier ports.TextClassifier
}

func NewHandlers(docs ports.DocumentReader, classifier ports.TextClassifier) *Handlers {
	return &Handlers{docs: docs, classifier: classifier}
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(h *Handlers) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	tools := ToolDefs()
	s.AddTool(tools[0], h.HandleGetDocument)
	s.AddTool(tools[1], h.HandleListDocuments)
	s.AddTool(tools[2], h.HandleClassifyText)
	return s
}

func (h *Handlers) HandleGetDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(mcp.ParseString(req, "document_id", ""))
	if id == "" {
		return mcp.NewToolResultError("document_id is required"), nil
	}

	doc, err := h.docs.GetByID(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("document %s not found", id)), nil
		}
		slog.Error("mcp_get_document_failed", "document_id", id, "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("failed to get document: %v", err)), nil
	}
	return jsonResult(documentView(*doc, true))
}

func (h *Handlers) HandleListDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := domain.DocumentFilter{
		Status: domain.DocumentStatus(mcp.ParseString(req, "status", "")),
		Limit:  parseIntParam(req, "limit", defaultListLimit),
	}
	switch filter.Status {
	case "", domain.StatusProcessing, domain.StatusProcessed, domain.StatusFailed:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", filter.Status)), nil
	}
	if raw := mcp.ParseString(req, "doc_type", ""); raw != "" {
		filter.DocType = domain.ParseDocType(raw)
	}

	docs, err := h.docs.List(ctx, filter)
	if err != nil {
		slog.Error("mcp_list_documents_failed", "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("failed to list documents: %v", err)), nil
	}

	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentView(doc, false))
	}
	return jsonResult(map[string]any{
		"documents": items,
		"count":     len(items),
	})
}

func (h *Handlers) HandleClassifyText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := mcp.ParseString(req, "text", "")
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	if len(text) > maxClassifyText {
		return mcp.NewToolResultError(fmt.Sprintf("text exceeds %d bytes", maxClassifyText)), nil
	}

	result := h.classifier.ClassifyText(ctx, text)
	return jsonResult(map[string]any{
		"classification": result.Classification,
		"confidence":     result.Confidence,
		"extracted":      result.Extracted,
		"suggested_tags": result.SuggestedTags,
		"summary":        result.Summary,
	})
}

func documentView(doc domain.Document, full bool) map[string]any {
	out := map[string]any{
		"document_id": doc.ID,
		"title":       doc.Title,
		"status":      doc.Status,
		"doc_type":    doc.DocType,
		"tags":        doc.Tags,
		"created_at":  doc.CreatedAt,
	}
	if doc.DueDate != "" {
		out["due_date"] = doc.DueDate
	}
	if doc.EventDate != "" {
		out["event_date"] = doc.EventDate
	}
	if doc.Error != "" {
		out["error"] = doc.Error
	}
	if !full {
		return out
	}

	out["pages"] = doc.Pages
	out["confidence"] = doc.Confidence
	if doc.Teacher != "" {
		out["teacher"] = doc.Teacher
	}
	if doc.Subject != "" {
		out["subject"] = doc.Subject
	}
	if doc.Summary != "" {
		out["summary"] = doc.Summary
	}
	if doc.ClassifierSource != "" {
		out["classifier_source"] = doc.ClassifierSource
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseIntParam(req mcp.CallToolRequest, key string, defaultVal int) int {
	args := req.GetArguments()
	if args == nil {
		return defaultVal
	}
	raw, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}

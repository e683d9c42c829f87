package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/infrastructure/llm/classification"
)

func TestClassifierSendsJSONFormatPrompt(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		reply, _ := json.Marshal(map[string]string{
			"response": `{"classification":"Report Card","confidence":0.77,"extracted":{"gradeLevel":"4th grade"},"suggestedTags":["grades","term-2","science"],"summary":"Term 2 report card."}`,
		})
		_, _ = w.Write(reply)
	}))
	defer server.Close()

	classifier := NewClassifier(New(server.URL, "llama3", nil), 0, 0)
	res, err := classifier.Classify(context.Background(), "Report card term 2", domain.VisualSignal{ImageDescription: "a printed table"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Classification != domain.DocTypeReportCard || res.Extracted.GradeLevel != "4th grade" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if payload["format"] != "json" || payload["model"] != "llama3" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	prompt, _ := payload["prompt"].(string)
	if !strings.Contains(prompt, "Report card term 2") || !strings.Contains(prompt, "a printed table") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
	options, _ := payload["options"].(map[string]any)
	if options["temperature"] != 0.1 || options["num_predict"] != float64(1000) {
		t.Fatalf("unexpected options: %v", options)
	}
}

func TestClassifierIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClassifier(New(server.URL, "gen", nil), 0, 0).Classify(context.Background(), "hello", domain.VisualSignal{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 502 to be temporary, got %v", err)
	}
}

func TestClassifierRejectsProse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"This looks like homework to me."}`))
	}))
	defer server.Close()

	_, err := NewClassifier(New(server.URL, "gen", nil), 0, 0).Classify(context.Background(), "hello", domain.VisualSignal{})
	if !errors.Is(err, classification.ErrInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}
}

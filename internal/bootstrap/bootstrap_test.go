package bootstrap

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/school-docs/internal/config"
	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
)

func embeddedConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		PublicBaseURL:      "http://localhost:8080",
		Repository:         RepositorySQLite,
		SQLitePath:         filepath.Join(dir, "docs.db"),
		QueueBackend:       QueueMemory,
		MemoryQueueWorkers: 1,
		StoragePath:        filepath.Join(dir, "storage"),
		LLMProvider:        LLMNone,
	}
}

func TestNewEmbeddedRunsPipelineToTerminalState(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app, err := New(ctx, embeddedConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()
	if !app.InProcessQueue {
		t.Fatal("expected in-process queue for memory backend")
	}

	go func() {
		_ = app.Queue.SubscribeDocumentIngested(ctx, app.ProcessUC.ProcessByID)
	}()

	doc, err := app.IngestUC.Create(ctx, ports.CreateDocumentRequest{
		Title:    "Trip",
		PageURLs: []string{"https://cdn.example.org/slip.jpg"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for {
		got, err := app.Repo.GetByID(ctx, doc.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status.IsTerminal() {
			if got.Status != domain.StatusFailed || !strings.Contains(got.Error, "no ocr provider") {
				t.Fatalf("expected failure without ocr provider, got %+v", got)
			}
			return
		}
		select {
		case <-ctx.Done():
			t.Fatal("document never reached a terminal state")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := embeddedConfig(t)
	cfg.LLMProvider = "gemini"
	if _, err := New(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "LLM_PROVIDER") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestClassifierWithoutProviderUsesFallback(t *testing.T) {
	app, err := New(context.Background(), embeddedConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	res := app.Classifier.Classify(context.Background(), "Permission slip due 3/15/2024", domain.VisualSignal{})
	if res.Source != domain.SourceFallback || res.Classification != domain.DocTypePermissionSlip {
		t.Fatalf("unexpected classification %+v", res)
	}
}

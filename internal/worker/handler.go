// Package worker adapts the processing use case to queue deliveries.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/school-docs/internal/core/ports"
)

// Recorder is implemented by metrics.WorkerMetrics.
type Recorder interface {
	StartDocument()
	FinishDocument(service string, duration time.Duration, err error)
	ObserveQueueLag(service string, lag time.Duration)
}

type Handler struct {
	service   string
	processor ports.DocumentProcessor
	docs      ports.DocumentReader
	recorder  Recorder
	timeout   time.Duration
	now       func() time.Time
}

// NewHandler accepts nil docs and recorder. Without docs no queue lag is observed.
func NewHandler(service string, processor ports.DocumentProcessor, docs ports.DocumentReader, recorder Recorder, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Handler{
		service:   service,
		processor: processor,
		docs:      docs,
		recorder:  recorder,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Handle processes one delivered document id under its own timeout.
func (h *Handler) Handle(ctx context.Context, documentID string) error {
	start := h.now()
	if h.recorder != nil {
		h.recorder.StartDocument()
	}
	h.observeLag(ctx, documentID, start)

	processCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	err := h.processor.ProcessByID(processCtx, documentID)

	elapsed := h.now().Sub(start)
	if h.recorder != nil {
		h.recorder.FinishDocument(h.service, elapsed, err)
	}
	if err != nil {
		slog.Error("document_process_failed",
			"document_id", documentID,
			"duration_ms", elapsed.Milliseconds(),
			"error", err.Error(),
		)
		return err
	}
	slog.Info("document_process_done", "document_id", documentID, "duration_ms", elapsed.Milliseconds())
	return nil
}

func (h *Handler) observeLag(ctx context.Context, documentID string, start time.Time) {
	if h.docs == nil || h.recorder == nil {
		return
	}
	doc, err := h.docs.GetByID(ctx, documentID)
	if err != nil || doc.CreatedAt.IsZero() {
		return
	}
	h.recorder.ObserveQueueLag(h.service, start.Sub(doc.CreatedAt))
}

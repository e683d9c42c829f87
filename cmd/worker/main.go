package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/school-docs/internal/bootstrap"
	"github.com/kirillkom/school-docs/internal/config"
	"github.com/kirillkom/school-docs/internal/observability/logging"
	"github.com/kirillkom/school-docs/internal/observability/metrics"
	"github.com/kirillkom/school-docs/internal/worker"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName, nil)
	app, err := bootstrap.New(ctx, cfg, bootstrap.WithObserver(workerMetrics))
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	if app.InProcessQueue {
		slog.Warn("worker_memory_queue", "reason", "memory queue receives no messages from the api process; use QUEUE_BACKEND=nats")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", workerMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_failed", "error", err.Error())
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	h := worker.NewHandler(serviceName, app.ProcessUC, app.Repo, workerMetrics, cfg.ProcessTimeout)
	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue", cfg.QueueBackend)
	if err := app.Queue.SubscribeDocumentIngested(ctx, h.Handle); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker_subscribe_failed", "error", err.Error())
		os.Exit(1)
	}
}

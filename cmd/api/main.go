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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	httpadapter "github.com/kirillkom/school-docs/internal/adapters/http"
	"github.com/kirillkom/school-docs/internal/bootstrap"
	"github.com/kirillkom/school-docs/internal/config"
	"github.com/kirillkom/school-docs/internal/observability/logging"
	"github.com/kirillkom/school-docs/internal/observability/metrics"
	"github.com/kirillkom/school-docs/internal/worker"
)

const serviceName = "api"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	workerMetrics := metrics.NewWorkerMetrics(serviceName, registry)
	httpMetrics := metrics.NewHTTPServerMetrics(serviceName, registry)

	app, err := bootstrap.New(ctx, cfg, bootstrap.WithObserver(workerMetrics))
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(cfg, app.IngestUC, app.Repo, app.StatusUC, app.Storage, httpadapter.WithMetrics(httpMetrics))
	if err != nil {
		slog.Error("router_init_failed", "error", err.Error())
		os.Exit(1)
	}
	handler := router.Handler()
	if cfg.APIH2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if app.InProcessQueue {
		h := worker.NewHandler(serviceName, app.ProcessUC, app.Repo, workerMetrics, cfg.ProcessTimeout)
		go func() {
			slog.Info("in_process_worker_started", "workers", cfg.MemoryQueueWorkers)
			if err := app.Queue.SubscribeDocumentIngested(ctx, h.Handle); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("in_process_worker_stopped", "error", err.Error())
			}
		}()
	}

	go func() {
		slog.Info("api_listening", "addr", server.Addr, "h2c", cfg.APIH2C)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err.Error())
	}
}

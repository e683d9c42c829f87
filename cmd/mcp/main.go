package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/school-docs/internal/adapters/mcp"
	"github.com/kirillkom/school-docs/internal/bootstrap"
	"github.com/kirillkom/school-docs/internal/config"
	"github.com/kirillkom/school-docs/internal/core/heuristic"
	"github.com/kirillkom/school-docs/internal/core/usecase"
	"github.com/kirillkom/school-docs/internal/observability/logging"
)

const serviceName = "mcp"

func main() {
	cfg := config.Load()
	// stdout carries the stdio transport, so logs go to stderr.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("mcp_server_failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	docs, closeRepo, err := bootstrap.OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	rules, err := heuristic.LoadRules(cfg.HeuristicRulesPath)
	if err != nil {
		return fmt.Errorf("load heuristic rules: %w", err)
	}
	classifier := usecase.NewClassifyUseCase(nil, heuristic.New(rules))
	mcpServer := mcpadapter.NewServer(mcpadapter.NewHandlers(docs, classifier))

	switch cfg.MCPTransport {
	case "http":
		httpServer := server.NewStreamableHTTPServer(mcpServer, server.WithStateLess(true))
		addr := ":" + cfg.MCPPort
		errCh := make(chan error, 1)
		go func() {
			slog.Info("mcp_listening", "addr", addr)
			errCh <- httpServer.Start(addr)
		}()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	case "stdio", "":
		slog.Info("mcp_stdio_started")
		return server.ServeStdio(mcpServer)
	default:
		return fmt.Errorf("unknown MCP_TRANSPORT %q", cfg.MCPTransport)
	}
}

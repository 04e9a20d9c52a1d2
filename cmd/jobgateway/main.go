package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cloudconsole/jobtracker/internal/app"
	"github.com/cloudconsole/jobtracker/internal/config"
	"github.com/cloudconsole/jobtracker/internal/mcp"
)

func main() {
	if err := config.LoadEnvFile(os.Getenv("JOBTRACKER_ENV_FILE")); err != nil {
		slog.Error("Failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting job gateway", "addr", cfg.ListenAddr, "api", cfg.APIURL, "logLevel", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{Metrics: true, Events: true})
	if err != nil {
		slog.Error("Failed to initialize tracker", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Metrics != nil {
		go func() {
			if err := a.Metrics.StartMetricsServer(ctx, cfg.MetricsAddr); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	mcpServer := mcp.NewServer(a.Tracker, a.History, a.Catalog)
	jobHandler := mcp.NewHandler(a.History, mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpServer.GetMCPServer()))
	mux.HandleFunc("/tools/call", jobHandler.HandleToolCall)
	mux.HandleFunc("/jobs", jobHandler.HandleJobs)
	mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/jobs/") == "" {
			jobHandler.HandleJobs(w, r)
			return
		}
		jobHandler.HandleJob(w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("Server listening", "addr", server.Addr)
		slog.Info("MCP endpoint: POST /mcp")
		slog.Info("REST tool endpoint: POST /tools/call")
		slog.Info("Job history: GET /jobs, GET /jobs/{id}")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			sigChan <- syscall.SIGTERM
		}
	}()

	sig := <-sigChan
	slog.Info("Received signal, initiating shutdown", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	cancel()

	slog.Info("Gateway shutdown complete")
}

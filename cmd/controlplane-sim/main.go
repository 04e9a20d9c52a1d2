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

	"github.com/cloudconsole/jobtracker/internal/config"
	"github.com/cloudconsole/jobtracker/internal/simulator"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	catalog := config.DefaultCatalog()
	if cfg.CatalogPath != "" {
		c, err := config.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			slog.Error("Failed to load catalog", "error", err)
			os.Exit(1)
		}
		catalog = c
	}

	store := simulator.NewStore()
	simulator.LoadCatalog(store, catalog)
	slog.Info("Simulating control plane", "operations", len(catalog.Operations), "path", cfg.APIPath)

	mux := http.NewServeMux()
	mux.Handle(cfg.APIPath, simulator.NewHandler(store))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cloudconsole/jobtracker/internal/app"
	"github.com/cloudconsole/jobtracker/internal/config"
)

// Exit codes of run and track
const (
	exitJobFailed    = 1
	exitNotSubmitted = 2
)

// newApp loads envFile and the environment, sets up logging and wires a tracker
func newApp(ctx context.Context, envFile string) (*app.App, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.LogLevel)

	return app.New(ctx, cfg, app.Options{Events: true})
}

// setupLogging sends logs to stderr so stdout carries only command output
func setupLogging(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(level),
	}))
	slog.SetDefault(logger)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

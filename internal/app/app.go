// Package app wires the tracker and its collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudconsole/jobtracker/internal/config"
	"github.com/cloudconsole/jobtracker/internal/events"
	"github.com/cloudconsole/jobtracker/internal/history"
	"github.com/cloudconsole/jobtracker/internal/jobclient"
	"github.com/cloudconsole/jobtracker/internal/metrics"
	"github.com/cloudconsole/jobtracker/internal/poll"
	"github.com/cloudconsole/jobtracker/internal/tracker"
)

// App holds a wired tracker and the resources it owns
type App struct {
	Config    *config.Config
	Catalog   *config.Catalog
	Client    *jobclient.Client
	Scheduler *poll.Scheduler
	Tracker   *tracker.Tracker
	History   history.Recorder
	Metrics   *metrics.Metrics

	closers []func()
}

// Options selects the optional parts of the wiring
type Options struct {
	// Metrics registers collectors when cfg.MetricsEnabled is set
	Metrics bool
	// Events connects the configured RabbitMQ and SQS publishers
	Events bool
}

// New builds an App from cfg. Resources opened before a failure are released.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config

	catalog := config.DefaultCatalog()
	if cfg.CatalogPath != "" {
		c, err := config.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		catalog = c
		slog.Info("Loaded operation catalog", "path", cfg.CatalogPath, "count", len(c.Operations))
	}
	a.Catalog = catalog

	clientCfg := jobclient.DefaultConfig(cfg.APIURL)
	clientCfg.Path = cfg.APIPath
	clientCfg.APIKey = cfg.APIKey
	clientCfg.SecretKey = cfg.SecretKey
	clientCfg.SessionKey = cfg.SessionKey
	clientCfg.Timeout = cfg.HTTPTimeout
	client, err := jobclient.NewClient(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create control-plane client: %w", err)
	}
	a.Client = client

	a.Scheduler = poll.NewScheduler()

	trackerOpts := []tracker.Option{
		tracker.WithCatalog(catalog),
		tracker.WithDefaultInterval(cfg.DefaultInterval),
	}

	if opts.Metrics && cfg.MetricsEnabled {
		a.Metrics = metrics.NewMetrics(cfg.MetricsNamespace)
		a.Metrics.RegisterActivePolls(cfg.MetricsNamespace, func() float64 {
			return float64(a.Scheduler.Len())
		})
		trackerOpts = append(trackerOpts, tracker.WithMetrics(a.Metrics))
	}

	if cfg.DatabaseURL != "" {
		slog.Info("Using PostgreSQL job history")
		pg, err := history.NewPgLog(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.History = pg
	} else {
		slog.Info("Using in-memory job history", "size", cfg.HistorySize)
		a.History = history.NewMemoryLog(cfg.HistorySize)
	}
	trackerOpts = append(trackerOpts, tracker.WithRecorder(a.History))

	if opts.Events {
		pub, err := a.publishers(ctx)
		if err != nil {
			return err
		}
		if pub != nil {
			trackerOpts = append(trackerOpts, tracker.WithPublisher(pub))
		}
	}

	a.Tracker = tracker.New(client, a.Scheduler, trackerOpts...)
	return nil
}

func (a *App) publishers(ctx context.Context) (events.Publisher, error) {
	cfg := a.Config
	var pubs events.Multi

	if cfg.RabbitMQURL != "" {
		p, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, err
		}
		a.addPublisher(p)
		pubs = append(pubs, p)
		slog.Info("Publishing settlement events to RabbitMQ", "exchange", cfg.RabbitMQExchange)
	}

	if cfg.SQSQueueURL != "" {
		p, err := events.NewSQSPublisher(ctx, cfg.SQSQueueURL)
		if err != nil {
			return nil, err
		}
		a.addPublisher(p)
		pubs = append(pubs, p)
		slog.Info("Publishing settlement events to SQS", "queue", cfg.SQSQueueURL)
	}

	switch len(pubs) {
	case 0:
		return nil, nil
	case 1:
		return pubs[0], nil
	}
	return pubs, nil
}

func (a *App) addPublisher(p events.Publisher) {
	a.closers = append(a.closers, func() {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to close publisher", "error", err)
		}
	})
}

// Close stops polling, then releases the remaining resources in reverse
// order of creation.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

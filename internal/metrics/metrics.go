package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

// Metrics holds the tracker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	ticks       *prometheus.CounterVec
	pollErrors  *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a dedicated registry
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Operations submitted to the control plane, by result.",
		}, []string{"operation", "result"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Job status queries answered, by observed status.",
		}, []string{"operation", "status"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Job status queries that failed in transport.",
		}, []string{"operation"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Jobs settled, by terminal status.",
		}, []string{"operation", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission to settlement.",
			Buckets:   []float64{1, 3, 10, 30, 60, 300, 900, 3600, 4 * 3600},
		}, []string{"operation", "status"}),
	}

	m.registry.MustRegister(
		m.submissions,
		m.ticks,
		m.pollErrors,
		m.outcomes,
		m.jobDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterActivePolls exposes the number of active polls as a gauge
func (m *Metrics) RegisterActivePolls(namespace string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_polls",
		Help:      "Polls currently scheduled.",
	}, fn))
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSubmission counts one submission attempt
func (m *Metrics) RecordSubmission(operation string, accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.submissions.WithLabelValues(operation, result).Inc()
}

// RecordTick counts one answered status query
func (m *Metrics) RecordTick(operation string, status types.JobStatus) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(operation, string(status)).Inc()
}

// RecordPollError counts one failed status query
func (m *Metrics) RecordPollError(operation string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(operation).Inc()
}

// RecordOutcome counts a settled job and observes its duration
func (m *Metrics) RecordOutcome(operation string, status types.JobStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, string(status)).Inc()
	m.jobDuration.WithLabelValues(operation, string(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer serves /metrics on addr until ctx is done
func (m *Metrics) StartMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}()

	slog.Info("Starting metrics server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

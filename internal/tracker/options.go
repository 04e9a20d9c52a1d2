package tracker

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/cloudconsole/jobtracker/internal/config"
	"github.com/cloudconsole/jobtracker/internal/events"
	"github.com/cloudconsole/jobtracker/internal/history"
	"github.com/cloudconsole/jobtracker/internal/metrics"
)

// Option configures a Tracker
type Option func(*Tracker)

// WithCatalog sets the operation catalog used by RunCatalog
func WithCatalog(c *config.Catalog) Option {
	return func(t *Tracker) {
		t.catalog = c
	}
}

// WithRecorder adds a history recorder that receives every settled outcome
func WithRecorder(r history.Recorder) Option {
	return func(t *Tracker) {
		t.recorders = append(t.recorders, r)
	}
}

// WithPublisher adds an event publisher that receives every settled outcome
func WithPublisher(p events.Publisher) Option {
	return func(t *Tracker) {
		t.publishers = append(t.publishers, p)
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithClock sets the clock used for timestamps and the max-wait limit
func WithClock(c clock.PassiveClock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithDefaultInterval sets the interval used when Run is given none
func WithDefaultInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.defaultInterval = d
		}
	}
}

// RunOption configures a single Run or Track call
type RunOption func(*runConfig)

type runConfig struct {
	key         string
	onProgress  func(processStatus string)
	onError     func(err error) bool
	maxAttempts int
	maxWait     time.Duration
}

// WithProgress calls fn whenever a pending job reports a new process status
func WithProgress(fn func(processStatus string)) RunOption {
	return func(c *runConfig) {
		c.onProgress = fn
	}
}

// WithErrorHandler calls fn for every transport failure while polling.
// Returning true stops polling and settles the job as failed.
func WithErrorHandler(fn func(err error) (stop bool)) RunOption {
	return func(c *runConfig) {
		c.onError = fn
	}
}

// WithMaxAttempts settles the job as failed with reason "timeout" after n
// status queries without a terminal status. Zero means no limit.
func WithMaxAttempts(n int) RunOption {
	return func(c *runConfig) {
		c.maxAttempts = n
	}
}

// WithMaxWait settles the job as failed with reason "timeout" once d has
// elapsed since submission. Zero means no limit.
func WithMaxWait(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.maxWait = d
	}
}

// WithKey overrides the poll key derived from the operation and job id
func WithKey(key string) RunOption {
	return func(c *runConfig) {
		c.key = key
	}
}

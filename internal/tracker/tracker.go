package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/cloudconsole/jobtracker/internal/config"
	"github.com/cloudconsole/jobtracker/internal/events"
	"github.com/cloudconsole/jobtracker/internal/history"
	"github.com/cloudconsole/jobtracker/internal/jobclient"
	"github.com/cloudconsole/jobtracker/internal/metrics"
	"github.com/cloudconsole/jobtracker/internal/poll"
	"github.com/cloudconsole/jobtracker/pkg/types"
)

const (
	// ReasonTimeout is the failure reason when a polling limit is reached
	ReasonTimeout = "timeout"

	hookTimeout = 10 * time.Second
)

// ErrMissingParams is returned by RunCatalog before submission when a
// required catalog parameter is absent.
var ErrMissingParams = errors.New("missing required parameters")

// ErrStopped is returned when a job's poll ended before the job settled:
// another Run started on the same key or the scheduler was closed. The
// error also wraps the scheduler's reason, e.g. poll.ErrSuperseded.
var ErrStopped = errors.New("tracking stopped before the job settled")

// Client submits operations and queries job status
type Client interface {
	Submit(ctx context.Context, operation string, params map[string]string) (string, error)
	QueryStatus(ctx context.Context, jobID string) (*types.StatusSnapshot, error)
}

// Scheduler runs keyed polls
type Scheduler interface {
	Start(key string, interval time.Duration, tick poll.TickFunc, onDone func()) *poll.Handle
}

// Tracker submits asynchronous operations and polls them to a single
// terminal outcome.
type Tracker struct {
	client          Client
	scheduler       Scheduler
	catalog         *config.Catalog
	recorders       []history.Recorder
	publishers      []events.Publisher
	metrics         *metrics.Metrics
	clock           clock.PassiveClock
	defaultInterval time.Duration
}

// New creates a tracker polling through scheduler
func New(client Client, scheduler Scheduler, opts ...Option) *Tracker {
	t := &Tracker{
		client:          client,
		scheduler:       scheduler,
		clock:           clock.RealClock{},
		defaultInterval: poll.DefaultInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PollKey is the scheduler key of a job: the lower-cased operation and the job id
func PollKey(operation, jobID string) string {
	return strings.ToLower(operation) + "/" + jobID
}

// Run submits operation and blocks until the job settles. The error is
// non-nil only when the operation could not be submitted, ctx ended first,
// or the poll was stopped from outside (ErrStopped); a job that was accepted
// and then failed is a Failed outcome.
func (t *Tracker) Run(ctx context.Context, operation string, params map[string]string, interval time.Duration, opts ...RunOption) (*types.Outcome, error) {
	submittedAt := t.clock.Now()

	jobID, err := t.client.Submit(ctx, operation, params)
	if err != nil {
		t.metrics.RecordSubmission(operation, false)
		slog.Warn("Operation could not be submitted", "operation", operation, "error", err)
		return nil, err
	}
	t.metrics.RecordSubmission(operation, true)
	slog.Info("Operation submitted", "operation", operation, "job", jobID)

	return t.track(ctx, operation, jobID, submittedAt, interval, opts)
}

// Track polls a job submitted elsewhere until it settles
func (t *Tracker) Track(ctx context.Context, operation, jobID string, interval time.Duration, opts ...RunOption) (*types.Outcome, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}
	return t.track(ctx, operation, jobID, t.clock.Now(), interval, opts)
}

// RunCatalog runs operation with the interval and limits of its catalog
// entry. Operations absent from the catalog use the default interval.
func (t *Tracker) RunCatalog(ctx context.Context, operation string, params map[string]string, opts ...RunOption) (*types.Outcome, error) {
	op, ok := t.catalog.Lookup(operation)
	if !ok {
		return t.Run(ctx, operation, params, t.defaultInterval, opts...)
	}

	if missing := op.MissingParams(params); len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w: %s", op.Name, ErrMissingParams, strings.Join(missing, ", "))
	}

	var base []RunOption
	if op.MaxAttempts > 0 {
		base = append(base, WithMaxAttempts(op.MaxAttempts))
	}
	if op.MaxWait > 0 {
		base = append(base, WithMaxWait(op.MaxWait))
	}
	return t.Run(ctx, op.Name, params, op.Interval, append(base, opts...)...)
}

// Catalog returns the tracker's operation catalog, which may be nil
func (t *Tracker) Catalog() *config.Catalog {
	return t.catalog
}

func (t *Tracker) track(ctx context.Context, operation, jobID string, submittedAt time.Time, interval time.Duration, opts []RunOption) (*types.Outcome, error) {
	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}
	if interval <= 0 {
		interval = t.defaultInterval
	}
	key := rc.key
	if key == "" {
		key = PollKey(operation, jobID)
	}

	var deadline time.Time
	if rc.maxWait > 0 {
		deadline = submittedAt.Add(rc.maxWait)
	}

	// Ticks of one poll are serial, so the state below is only touched by
	// the poll goroutine.
	var (
		ticks    int
		lastProc string
		result   *types.Outcome
	)
	settle := func(status types.JobStatus, snap *types.StatusSnapshot, reason string) poll.Verdict {
		result = &types.Outcome{
			JobID:       jobID,
			Operation:   operation,
			Status:      status,
			Reason:      reason,
			Ticks:       ticks,
			SubmittedAt: submittedAt,
		}
		if snap != nil {
			result.Result = snap.Result
		}
		return poll.Done
	}
	limitReached := func() bool {
		if rc.maxAttempts > 0 && ticks >= rc.maxAttempts {
			return true
		}
		return !deadline.IsZero() && !t.clock.Now().Before(deadline)
	}

	tick := func(tickCtx context.Context) poll.Verdict {
		ticks++

		snap, err := t.client.QueryStatus(tickCtx, jobID)
		if err != nil {
			var apiErr *jobclient.APIError
			if errors.As(err, &apiErr) {
				slog.Warn("Job status query rejected", "operation", operation, "job", jobID, "error", err)
				return settle(types.JobStatusFailed, nil, apiErr.Text)
			}

			t.metrics.RecordPollError(operation)
			slog.Warn("Job status query failed", "operation", operation, "job", jobID, "tick", ticks, "error", err)
			if rc.onError != nil && rc.onError(err) {
				return settle(types.JobStatusFailed, nil, err.Error())
			}
			if limitReached() {
				return settle(types.JobStatusFailed, nil, ReasonTimeout)
			}
			return poll.Continue
		}

		t.metrics.RecordTick(operation, snap.Status)

		switch snap.Status {
		case types.JobStatusSucceeded:
			return settle(types.JobStatusSucceeded, snap, "")
		case types.JobStatusFailed:
			return settle(types.JobStatusFailed, nil, snap.Reason)
		}

		if snap.ProcessStatus != "" && snap.ProcessStatus != lastProc {
			lastProc = snap.ProcessStatus
			slog.Debug("Job progress", "operation", operation, "job", jobID, "process_status", lastProc)
			if rc.onProgress != nil {
				rc.onProgress(lastProc)
			}
		}

		if limitReached() {
			slog.Warn("Job polling limit reached", "operation", operation, "job", jobID, "ticks", ticks)
			return settle(types.JobStatusFailed, nil, ReasonTimeout)
		}
		return poll.Continue
	}

	settled := make(chan *types.Outcome, 1)
	var once sync.Once
	onDone := func() {
		once.Do(func() {
			result.SettledAt = t.clock.Now()
			settled <- result
		})
	}

	slog.Debug("Tracking job", "operation", operation, "job", jobID, "key", key, "interval", interval)
	h := t.scheduler.Start(key, interval, tick, onDone)

	select {
	case o := <-settled:
		t.deliver(ctx, o)
		return o, nil
	case <-h.Done():
		return t.stopped(ctx, h, operation, jobID, settled)
	case <-ctx.Done():
		if h.Cancel() {
			slog.Info("Stopped tracking job", "operation", operation, "job", jobID, "reason", ctx.Err())
			return nil, ctx.Err()
		}
		// The poll ended on its own; a settled outcome is delivered even
		// though the caller is gone.
		<-h.Done()
		return t.stopped(ctx, h, operation, jobID, settled)
	}
}

// stopped resolves a poll that has ended. onDone has returned by the time
// the handle is done, so a settled outcome is already buffered.
func (t *Tracker) stopped(ctx context.Context, h *poll.Handle, operation, jobID string, settled <-chan *types.Outcome) (*types.Outcome, error) {
	select {
	case o := <-settled:
		t.deliver(ctx, o)
		return o, nil
	default:
	}

	reason := h.Err()
	if reason == nil {
		reason = errors.New("poll ended without an outcome")
	}
	slog.Warn("Stopped tracking job", "operation", operation, "job", jobID, "key", h.Key(), "reason", reason)
	return nil, fmt.Errorf("%w: %s %s: %w", ErrStopped, operation, jobID, reason)
}

// deliver reports a settled outcome to metrics, history and events. Hook
// failures are logged and do not affect the outcome.
func (t *Tracker) deliver(ctx context.Context, o *types.Outcome) {
	t.metrics.RecordOutcome(o.Operation, o.Status, o.Duration())
	if o.Succeeded() {
		slog.Info("Job succeeded", "operation", o.Operation, "job", o.JobID, "ticks", o.Ticks, "duration", o.Duration())
	} else {
		slog.Warn("Job failed", "operation", o.Operation, "job", o.JobID, "ticks", o.Ticks, "reason", o.Reason)
	}

	if len(t.recorders) == 0 && len(t.publishers) == 0 {
		return
	}

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()

	entry := history.NewEntry(o)
	for _, r := range t.recorders {
		if err := r.Record(hookCtx, entry); err != nil {
			slog.Error("Failed to record job", "job", o.JobID, "error", err)
		}
	}
	for _, p := range t.publishers {
		if err := p.Publish(hookCtx, o); err != nil {
			slog.Error("Failed to publish job event", "job", o.JobID, "error", err)
		}
	}
}

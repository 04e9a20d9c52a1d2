package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/cloudconsole/jobtracker/internal/tracker"
	"github.com/cloudconsole/jobtracker/pkg/types"
)

// RunAction submits --command and prints the outcome once the job settles
func RunAction(ctx context.Context, cmd *cli.Command) error {
	params, err := ParseParams(cmd.StringSlice("param"))
	if err != nil {
		return cli.Exit(err.Error(), exitNotSubmitted)
	}

	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	operation := cmd.String("command")
	opts := runOptions(cmd.Duration("max-wait"), int(cmd.Int("max-attempts")))

	var o *types.Outcome
	if interval := cmd.Duration("interval"); interval > 0 {
		o, err = a.Tracker.Run(ctx, operation, params, interval, opts...)
	} else {
		o, err = a.Tracker.RunCatalog(ctx, operation, params, opts...)
	}
	return report(o, err, operation)
}

// TrackAction polls --job until it settles
func TrackAction(ctx context.Context, cmd *cli.Command) error {
	jobID := strings.TrimSpace(cmd.String("job"))
	if jobID == "" {
		return cli.Exit("--job is required", exitNotSubmitted)
	}

	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	operation := cmd.String("command")
	interval := cmd.Duration("interval")
	if interval <= 0 {
		interval = a.Config.DefaultInterval
	}

	o, err := a.Tracker.Track(ctx, operation, jobID, interval, runOptions(cmd.Duration("max-wait"), 0)...)
	return report(o, err, operation)
}

func runOptions(maxWait time.Duration, maxAttempts int) []tracker.RunOption {
	opts := []tracker.RunOption{
		tracker.WithProgress(func(processStatus string) {
			slog.Info("Job progress", "status", processStatus)
		}),
	}
	if maxWait > 0 {
		opts = append(opts, tracker.WithMaxWait(maxWait))
	}
	if maxAttempts > 0 {
		opts = append(opts, tracker.WithMaxAttempts(maxAttempts))
	}
	return opts
}

// report prints o and maps the result to the process exit code
func report(o *types.Outcome, err error, operation string) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return cli.Exit("interrupted while waiting for "+operation, exitJobFailed)
		}
		if errors.Is(err, tracker.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
			return cli.Exit(fmt.Sprintf("stopped waiting for %s: %v", operation, err), exitJobFailed)
		}
		return cli.Exit(fmt.Sprintf("%s could not be submitted: %v", operation, err), exitNotSubmitted)
	}

	if err := writeJSON(os.Stdout, o); err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}
	if o.Failed() {
		return cli.Exit("", exitJobFailed)
	}
	return nil
}

// ParseParams turns key=value pairs into command parameters. Values may
// contain '='; keys must be non-empty and unique.
func ParseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		if _, dup := params[key]; dup {
			return nil, fmt.Errorf("parameter %q given more than once", key)
		}
		params[key] = value
	}
	return params, nil
}

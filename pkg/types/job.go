package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the state of an asynchronous control-plane job
type JobStatus string

const (
	JobStatusPending   JobStatus = "Pending"
	JobStatusSucceeded JobStatus = "Succeeded"
	JobStatusFailed    JobStatus = "Failed"
)

// Wire codes carried in the jobstatus field of queryAsyncJobResult
const (
	WireStatusPending   = 0
	WireStatusSucceeded = 1
	WireStatusFailed    = 2
)

// ErrResultKeyNotFound is returned by Outcome.Decode and Outcome.First when the
// result object does not carry the requested key.
var ErrResultKeyNotFound = errors.New("result key not found")

// StatusFromCode maps a wire status code to a JobStatus
func StatusFromCode(code int) (JobStatus, error) {
	switch code {
	case WireStatusPending:
		return JobStatusPending, nil
	case WireStatusSucceeded:
		return JobStatusSucceeded, nil
	case WireStatusFailed:
		return JobStatusFailed, nil
	}
	return "", fmt.Errorf("unknown job status code %d", code)
}

// Code returns the wire code for the status, or -1 for an unknown status
func (s JobStatus) Code() int {
	switch s {
	case JobStatusPending:
		return WireStatusPending
	case JobStatusSucceeded:
		return WireStatusSucceeded
	case JobStatusFailed:
		return WireStatusFailed
	}
	return -1
}

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// StatusSnapshot is one observation of a job's status
type StatusSnapshot struct {
	JobID         string          `json:"job_id"`
	Status        JobStatus       `json:"status"`
	ProcessStatus string          `json:"process_status,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// Outcome is the terminal result of a tracked job
type Outcome struct {
	JobID       string          `json:"job_id"`
	Operation   string          `json:"operation"`
	Status      JobStatus       `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Ticks       int             `json:"ticks"`
	SubmittedAt time.Time       `json:"submitted_at"`
	SettledAt   time.Time       `json:"settled_at"`
}

// Succeeded reports whether the job completed successfully
func (o *Outcome) Succeeded() bool {
	return o.Status == JobStatusSucceeded
}

// Failed reports whether the job completed with a failure
func (o *Outcome) Failed() bool {
	return o.Status == JobStatusFailed
}

// Duration is the time between submission and settlement
func (o *Outcome) Duration() time.Duration {
	if o.SubmittedAt.IsZero() || o.SettledAt.IsZero() {
		return 0
	}
	return o.SettledAt.Sub(o.SubmittedAt)
}

// Decode unmarshals result[key] into v. Keys nested under a jobresult object
// are found as well, so both the flat and the nested response layouts work.
func (o *Outcome) Decode(key string, v any) error {
	raw, err := o.lookup(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode result %q: %w", key, err)
	}
	return nil
}

// First unmarshals result[key][0] into v, e.g. First("virtualmachine", &vm)
func (o *Outcome) First(key string, v any) error {
	raw, err := o.lookup(key)
	if err != nil {
		return err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		// Newer backends return a single object instead of a one-element array
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("failed to decode result %q: %w", key, err)
		}
		return nil
	}
	if len(items) == 0 {
		return fmt.Errorf("result %q is empty: %w", key, ErrResultKeyNotFound)
	}
	if err := json.Unmarshal(items[0], v); err != nil {
		return fmt.Errorf("failed to decode result %q: %w", key, err)
	}
	return nil
}

func (o *Outcome) lookup(key string) (json.RawMessage, error) {
	if len(o.Result) == 0 {
		return nil, fmt.Errorf("%s: %w", key, ErrResultKeyNotFound)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(o.Result, &fields); err != nil {
		return nil, fmt.Errorf("result is not an object: %w", err)
	}
	if raw, ok := fields[key]; ok {
		return raw, nil
	}

	if nested, ok := fields["jobresult"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			if raw, ok := inner[key]; ok {
				return raw, nil
			}
		}
	}

	return nil, fmt.Errorf("%s: %w", key, ErrResultKeyNotFound)
}

package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

// ErrNotFound is returned when no entry exists for a job id
var ErrNotFound = errors.New("job not found")

// Entry is one settled job
type Entry struct {
	JobID       string          `json:"job_id"`
	Operation   string          `json:"operation"`
	Status      types.JobStatus `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Ticks       int             `json:"ticks"`
	SubmittedAt time.Time       `json:"submitted_at"`
	SettledAt   time.Time       `json:"settled_at"`
}

// NewEntry builds an entry from a settled outcome
func NewEntry(o *types.Outcome) Entry {
	return Entry{
		JobID:       o.JobID,
		Operation:   o.Operation,
		Status:      o.Status,
		Reason:      o.Reason,
		Result:      o.Result,
		Ticks:       o.Ticks,
		SubmittedAt: o.SubmittedAt,
		SettledAt:   o.SettledAt,
	}
}

// Recorder stores settled jobs
type Recorder interface {
	// Record stores e, replacing an earlier entry for the same job
	Record(ctx context.Context, e Entry) error
	// Get returns the entry for jobID or ErrNotFound
	Get(ctx context.Context, jobID string) (*Entry, error)
	// Latest returns at most limit entries, most recently settled first
	Latest(ctx context.Context, limit int) ([]Entry, error)
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

// Event is the message published when a tracked job settles
type Event struct {
	JobID       string          `json:"job_id"`
	Operation   string          `json:"operation"`
	Status      types.JobStatus `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Ticks       int             `json:"ticks"`
	SubmittedAt time.Time       `json:"submitted_at"`
	SettledAt   time.Time       `json:"settled_at"`
}

// NewEvent builds the settlement event for o
func NewEvent(o *types.Outcome) Event {
	return Event{
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

// RoutingKey returns job.<operation>.<status>, lower-cased
func (e Event) RoutingKey() string {
	return "job." + strings.ToLower(e.Operation) + "." + strings.ToLower(string(e.Status))
}

// Publisher delivers settlement events
type Publisher interface {
	Publish(ctx context.Context, o *types.Outcome) error
	Close() error
}

// Multi fans an outcome out to several publishers
type Multi []Publisher

// Publish delivers o to every publisher and joins their errors
func (m Multi) Publish(ctx context.Context, o *types.Outcome) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

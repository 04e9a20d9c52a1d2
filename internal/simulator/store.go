package simulator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

// Script describes how a simulated command's job evolves. Each status query
// consumes one step; the job stays pending while steps remain and then
// settles.
type Script struct {
	// Steps are the process statuses reported while pending. An empty step
	// reports no process status.
	Steps []string
	// Fail settles the job as failed with Reason instead of succeeding
	Fail   bool
	Reason string
	// Result is merged into the status response when the job succeeds
	Result map[string]any
}

// Job is a simulated asynchronous job
type Job struct {
	ID        string
	Command   string
	Params    map[string]string
	Script    Script
	Queries   int
	Status    types.JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrUnknownCommand is returned by Submit for a command without a script
type ErrUnknownCommand struct {
	Command string
}

func (e *ErrUnknownCommand) Error() string {
	return fmt.Sprintf("The given command %s does not exist or it is not available for user", e.Command)
}

// Store manages simulated jobs in memory
type Store struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	scripts     map[string]Script
	unavailable int
}

// NewStore creates a new, empty store
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]*Job),
		scripts: make(map[string]Script),
	}
}

// SetScript registers the script for command, matched case-insensitively
func (s *Store) SetScript(command string, script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[strings.ToLower(command)] = script
}

// SetUnavailable makes the next n requests fail as if a proxy were down
func (s *Store) SetUnavailable(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = n
}

// takeUnavailable consumes one injected outage, reporting whether one was pending
func (s *Store) takeUnavailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable <= 0 {
		return false
	}
	s.unavailable--
	return true
}

// Submit creates a pending job for command
func (s *Store) Submit(command string, params map[string]string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	script, ok := s.scripts[strings.ToLower(command)]
	if !ok {
		return nil, &ErrUnknownCommand{Command: command}
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Command:   command,
		Params:    params,
		Script:    script,
		Status:    types.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job

	cp := *job
	return &cp, nil
}

// Query advances the job by one step and returns its state afterwards along
// with the process status of that step.
func (s *Store) Query(id string) (*Job, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, "", fmt.Errorf("job %s not found", id)
	}

	var proc string
	if !job.Status.IsTerminal() {
		job.Queries++
		job.UpdatedAt = time.Now()
		if job.Queries <= len(job.Script.Steps) {
			proc = job.Script.Steps[job.Queries-1]
		} else if job.Script.Fail {
			job.Status = types.JobStatusFailed
		} else {
			job.Status = types.JobStatusSucceeded
		}
	}

	cp := *job
	return &cp, proc, nil
}

// Get returns a job without advancing it
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *job
	return &cp, nil
}

// Len returns the number of jobs submitted so far
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

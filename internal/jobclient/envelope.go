package jobclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

// flexString accepts a JSON string, number or null. The control plane is not
// consistent about quoting ids and status codes across versions.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// envelope holds the fields shared by every command response
type envelope struct {
	JobID     flexString `json:"jobid"`
	ErrorCode flexString `json:"errorcode"`
	ErrorText string     `json:"errortext"`
}

func (e *envelope) isError() bool {
	return e.ErrorCode != "" || e.ErrorText != ""
}

// jobResult is the body of queryasyncjobresultresponse
type jobResult struct {
	envelope
	JobStatus     flexString      `json:"jobstatus"`
	JobProcStatus flexString      `json:"jobprocstatus"`
	JobResult     json.RawMessage `json:"jobresult"`
}

// responseKey is the top-level key the control plane wraps a command's response in
func responseKey(command string) string {
	return strings.ToLower(command) + "response"
}

// unwrap returns the object stored under key. When the exact key is missing
// and the body has a single "...response" member, that member is used.
func unwrap(body []byte, key string) (json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if raw, ok := top[key]; ok {
		return raw, nil
	}

	var (
		found json.RawMessage
		count int
	)
	for k, raw := range top {
		if strings.HasSuffix(strings.ToLower(k), "response") {
			found = raw
			count++
		}
	}
	if count == 1 {
		return found, nil
	}

	return nil, fmt.Errorf("%w: missing %q", ErrMalformedResponse, key)
}

// failureReason extracts a human-readable reason from jobresult, which is
// text on older backends and an object carrying errortext on newer ones.
func failureReason(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var obj envelope
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ErrorText != "" {
		return obj.ErrorText
	}

	return string(raw)
}

// toSnapshot converts a decoded job result into a StatusSnapshot
func toSnapshot(jobID string, raw json.RawMessage, res *jobResult) (*types.StatusSnapshot, error) {
	code, err := parseCode(string(res.JobStatus))
	if err != nil {
		return nil, fmt.Errorf("%w: jobstatus: %v", ErrMalformedResponse, err)
	}
	status, err := types.StatusFromCode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	snap := &types.StatusSnapshot{
		JobID:  jobID,
		Status: status,
	}
	if res.JobID != "" {
		snap.JobID = string(res.JobID)
	}

	// Numeric backends report 0 when no process status is set
	if proc := string(res.JobProcStatus); proc != "0" {
		snap.ProcessStatus = proc
	}

	switch status {
	case types.JobStatusFailed:
		snap.Reason = failureReason(res.JobResult)
	case types.JobStatusSucceeded:
		snap.Result = append(json.RawMessage(nil), raw...)
	}

	return snap, nil
}

func parseCode(s string) (int, error) {
	if s == "" {
		return 0, errors.New("missing")
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return v, nil
}

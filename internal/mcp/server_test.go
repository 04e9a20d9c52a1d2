package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudconsole/jobtracker/internal/config"
	"github.com/cloudconsole/jobtracker/internal/history"
	"github.com/cloudconsole/jobtracker/internal/jobclient"
	"github.com/cloudconsole/jobtracker/internal/poll"
	"github.com/cloudconsole/jobtracker/internal/tracker"
	"github.com/cloudconsole/jobtracker/pkg/types"
)

type runCall struct {
	catalog   bool
	operation string
	params    map[string]string
	interval  time.Duration
	opts      int
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []runCall
	outcome *types.Outcome
	err     error
}

func (f *fakeRunner) RunCatalog(ctx context.Context, operation string, params map[string]string, opts ...tracker.RunOption) (*types.Outcome, error) {
	return f.record(runCall{catalog: true, operation: operation, params: params, opts: len(opts)})
}

func (f *fakeRunner) Run(ctx context.Context, operation string, params map[string]string, interval time.Duration, opts ...tracker.RunOption) (*types.Outcome, error) {
	return f.record(runCall{operation: operation, params: params, interval: interval, opts: len(opts)})
}

func (f *fakeRunner) record(c runCall) (*types.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	o := *f.outcome
	o.Operation = c.operation
	return &o, nil
}

func (f *fakeRunner) lastCall(t *testing.T) runCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	handler := s.ToolHandler(name)
	require.NotNil(t, handler, "tool %s not registered", name)

	res, err := handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func succeeded() *types.Outcome {
	return &types.Outcome{
		JobID:  "job-1",
		Status: types.JobStatusSucceeded,
		Result: json.RawMessage(`{"virtualmachine":{"state":"Running"}}`),
		Ticks:  2,
	}
}

func TestNewServer_RegistersTools(t *testing.T) {
	s := NewServer(&fakeRunner{outcome: succeeded()}, history.NewMemoryLog(10), config.DefaultCatalog())

	require.NotNil(t, s.GetMCPServer())
	for _, name := range []string{"run_operation", "list_operations", "job_history"} {
		assert.NotNil(t, s.ToolHandler(name), name)
	}
	assert.Nil(t, s.ToolHandler("missing"))
}

func TestRunOperation_UsesCatalogByDefault(t *testing.T) {
	runner := &fakeRunner{outcome: succeeded()}
	s := NewServer(runner, nil, config.DefaultCatalog())

	res := callTool(t, s, "run_operation", map[string]any{
		"command": "startVirtualMachine",
		"params":  map[string]any{"id": "42", "count": float64(3), "force": true, "skip": nil},
	})
	assert.False(t, res.IsError)

	call := runner.lastCall(t)
	assert.True(t, call.catalog)
	assert.Equal(t, "startVirtualMachine", call.operation)
	assert.Equal(t, map[string]string{"id": "42", "count": "3", "force": "true"}, call.params)
	assert.Zero(t, call.opts)

	var out types.Outcome
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, "job-1", out.JobID)
	assert.Equal(t, types.JobStatusSucceeded, out.Status)
}

func TestRunOperation_ExplicitInterval(t *testing.T) {
	runner := &fakeRunner{outcome: succeeded()}
	s := NewServer(runner, nil, config.DefaultCatalog())

	res := callTool(t, s, "run_operation", map[string]any{
		"command":  "createSnapshot",
		"interval": 1.5,
		"max_wait": float64(60),
	})
	assert.False(t, res.IsError)

	call := runner.lastCall(t)
	assert.False(t, call.catalog)
	assert.Equal(t, 1500*time.Millisecond, call.interval)
	assert.Equal(t, 1, call.opts)
	assert.Empty(t, call.params)
}

func TestRunOperation_Errors(t *testing.T) {
	tests := []struct {
		name     string
		runner   *fakeRunner
		args     map[string]any
		contains string
	}{
		{
			name:     "missing command",
			runner:   &fakeRunner{outcome: succeeded()},
			args:     map[string]any{},
			contains: "command",
		},
		{
			name:     "params not an object",
			runner:   &fakeRunner{outcome: succeeded()},
			args:     map[string]any{"command": "startVirtualMachine", "params": "id=42"},
			contains: "params must be an object",
		},
		{
			name:     "nested param",
			runner:   &fakeRunner{outcome: succeeded()},
			args:     map[string]any{"command": "startVirtualMachine", "params": map[string]any{"tags": []any{"a"}}},
			contains: `param "tags"`,
		},
		{
			name:     "submission rejected",
			runner:   &fakeRunner{err: &jobclient.APIError{Command: "startVirtualMachine", StatusCode: 431, Code: 431, Text: "id is required"}},
			args:     map[string]any{"command": "startVirtualMachine"},
			contains: "could not be submitted",
		},
		{
			name:     "poll superseded",
			runner:   &fakeRunner{err: fmt.Errorf("%w: startVirtualMachine job-1: %w", tracker.ErrStopped, poll.ErrSuperseded)},
			args:     map[string]any{"command": "startVirtualMachine"},
			contains: "stopped waiting",
		},
		{
			name:     "stopped waiting",
			runner:   &fakeRunner{err: context.DeadlineExceeded},
			args:     map[string]any{"command": "startVirtualMachine"},
			contains: "stopped waiting",
		},
		{
			name: "job failed",
			runner: &fakeRunner{outcome: &types.Outcome{
				JobID:  "job-2",
				Status: types.JobStatusFailed,
				Reason: "insufficient capacity",
			}},
			args:     map[string]any{"command": "startVirtualMachine"},
			contains: "insufficient capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(tt.runner, nil, config.DefaultCatalog())
			res := callTool(t, s, "run_operation", tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.contains)
		})
	}
}

func TestListOperations(t *testing.T) {
	cat, err := config.NewCatalog(
		config.Operation{Name: "startVirtualMachine", Interval: 3 * time.Second, Params: []string{"id"}},
		config.Operation{Name: "createTemplate", Interval: 30 * time.Second, MaxWait: time.Hour},
	)
	require.NoError(t, err)
	s := NewServer(&fakeRunner{outcome: succeeded()}, nil, cat)

	res := callTool(t, s, "list_operations", nil)
	assert.False(t, res.IsError)

	var ops []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &ops))
	require.Len(t, ops, 2)
	assert.Equal(t, "createTemplate", ops[0]["name"])
	assert.Equal(t, "1h0m0s", ops[0]["max_wait"])
	assert.Equal(t, "startVirtualMachine", ops[1]["name"])
	assert.Equal(t, "3s", ops[1]["interval"])
	assert.NotContains(t, ops[1], "max_wait")
}

func TestJobHistory(t *testing.T) {
	log := history.NewMemoryLog(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, log.Record(context.Background(), history.Entry{
			JobID:     id,
			Operation: "startVirtualMachine",
			Status:    types.JobStatusSucceeded,
			SettledAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	s := NewServer(&fakeRunner{outcome: succeeded()}, log, config.DefaultCatalog())

	res := callTool(t, s, "job_history", map[string]any{"limit": float64(2)})
	assert.False(t, res.IsError)

	var entries []history.Entry
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].JobID)
	assert.Equal(t, "b", entries[1].JobID)
}

func TestJobHistory_NonPositiveLimitUsesDefault(t *testing.T) {
	log := history.NewMemoryLog(50)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		require.NoError(t, log.Record(context.Background(), history.Entry{
			JobID:     fmt.Sprintf("job-%d", i),
			Operation: "startVirtualMachine",
			Status:    types.JobStatusSucceeded,
			SettledAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	s := NewServer(&fakeRunner{outcome: succeeded()}, log, config.DefaultCatalog())

	for _, limit := range []float64{0, -5} {
		res := callTool(t, s, "job_history", map[string]any{"limit": limit})
		assert.False(t, res.IsError)

		var entries []history.Entry
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &entries))
		assert.Len(t, entries, defaultHistoryLimit, "limit %v", limit)
		assert.Equal(t, "job-29", entries[0].JobID)
	}
}

func TestJobHistory_Disabled(t *testing.T) {
	s := NewServer(&fakeRunner{outcome: succeeded()}, nil, config.DefaultCatalog())

	res := callTool(t, s, "job_history", nil)
	assert.True(t, res.IsError)
}

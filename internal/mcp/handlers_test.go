package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudconsole/jobtracker/internal/config"
	"github.com/cloudconsole/jobtracker/internal/history"
	"github.com/cloudconsole/jobtracker/pkg/types"
)

func seededLog(t *testing.T, ids ...string) *history.MemoryLog {
	t.Helper()
	log := history.NewMemoryLog(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		require.NoError(t, log.Record(context.Background(), history.Entry{
			JobID:     id,
			Operation: "createSnapshot",
			Status:    types.JobStatusSucceeded,
			Ticks:     i + 1,
			SettledAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	return log
}

func TestHandleJob(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantTicks  int
	}{
		{name: "existing job", method: http.MethodGet, path: "/jobs/job-2", wantStatus: http.StatusOK, wantTicks: 2},
		{name: "unknown job", method: http.MethodGet, path: "/jobs/nope", wantStatus: http.StatusNotFound},
		{name: "missing id", method: http.MethodGet, path: "/jobs/", wantStatus: http.StatusBadRequest},
		{name: "nested path", method: http.MethodGet, path: "/jobs/job-1/stream", wantStatus: http.StatusBadRequest},
		{name: "invalid method", method: http.MethodPost, path: "/jobs/job-1", wantStatus: http.StatusMethodNotAllowed},
	}

	h := NewHandler(seededLog(t, "job-1", "job-2"), nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			h.HandleJob(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var e history.Entry
			require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
			assert.Equal(t, tt.wantTicks, e.Ticks)
		})
	}
}

func TestHandleJobs(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []string
	}{
		{name: "default limit", query: "", wantStatus: http.StatusOK, wantIDs: []string{"c", "b", "a"}},
		{name: "explicit limit", query: "?limit=2", wantStatus: http.StatusOK, wantIDs: []string{"c", "b"}},
		{name: "invalid limit", query: "?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "zero limit", query: "?limit=0", wantStatus: http.StatusBadRequest},
	}

	h := NewHandler(seededLog(t, "a", "b", "c"), nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/jobs"+tt.query, nil)
			w := httptest.NewRecorder()

			h.HandleJobs(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var entries []history.Entry
			require.NoError(t, json.NewDecoder(w.Body).Decode(&entries))
			var ids []string
			for _, e := range entries {
				ids = append(ids, e.JobID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestHandleJobs_Empty(t *testing.T) {
	h := NewHandler(history.NewMemoryLog(10), nil)
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()

	h.HandleJobs(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHandleToolCall(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		server     bool
		wantStatus int
		wantError  bool
	}{
		{
			name:       "run operation",
			method:     http.MethodPost,
			body:       `{"name":"run_operation","arguments":{"command":"startVirtualMachine","params":{"id":"42"}}}`,
			server:     true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "tool reports error",
			method:     http.MethodPost,
			body:       `{"name":"run_operation","arguments":{}}`,
			server:     true,
			wantStatus: http.StatusOK,
			wantError:  true,
		},
		{
			name:       "unknown tool",
			method:     http.MethodPost,
			body:       `{"name":"delete_everything"}`,
			server:     true,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "missing name",
			method:     http.MethodPost,
			body:       `{"arguments":{}}`,
			server:     true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid body",
			method:     http.MethodPost,
			body:       `{`,
			server:     true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid method",
			method:     http.MethodGet,
			server:     true,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "no server",
			method:     http.MethodPost,
			body:       `{"name":"list_operations"}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outcome: succeeded()}
			var s *Server
			if tt.server {
				s = NewServer(runner, nil, config.DefaultCatalog())
			}
			h := NewHandler(history.NewMemoryLog(10), s)

			req := httptest.NewRequest(tt.method, "/tools/call", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			h.HandleToolCall(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var res struct {
				IsError bool `json:"isError"`
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
			assert.Equal(t, tt.wantError, res.IsError)
			require.NotEmpty(t, res.Content)
			assert.Equal(t, "text", res.Content[0].Type)
			if !tt.wantError {
				assert.Contains(t, res.Content[0].Text, `"job-1"`)
			}
		})
	}
}

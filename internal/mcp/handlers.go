package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cloudconsole/jobtracker/internal/history"
)

// Handler provides HTTP endpoints for job history and direct tool calls
type Handler struct {
	history history.Recorder
	server  *Server
}

// NewHandler creates a new HTTP handler
func NewHandler(hist history.Recorder, server *Server) *Handler {
	return &Handler{
		history: hist,
		server:  server,
	}
}

// HandleToolCall handles POST /tools/call, a REST interface to the MCP tools
// that needs no session management.
func (h *Handler) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Tool name is required", http.StatusBadRequest)
		return
	}

	if h.server == nil {
		http.Error(w, "MCP server not initialized", http.StatusInternalServerError)
		return
	}
	handler := h.server.ToolHandler(req.Name)
	if handler == nil {
		http.Error(w, fmt.Sprintf("Tool %q not found", req.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	})
	if err != nil {
		slog.Error("Tool call failed", "tool", req.Name, "error", err)
		http.Error(w, fmt.Sprintf("Tool call failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, result)
}

// HandleJobs handles GET /jobs?limit=N
func (h *Handler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.history.Latest(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list jobs", "error", err)
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, entries)
}

// HandleJob handles GET /jobs/{id}
func (h *Handler) HandleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	entry, err := h.history.Get(r.Context(), jobID)
	if errors.Is(err, history.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to get job", "job", jobID, "error", err)
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, entry)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

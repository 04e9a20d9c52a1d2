package simulator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

// Control-plane error codes
const (
	ErrorCodeParam   = 431
	ErrorCodeUnknown = 432
	ErrorCodeServer  = 530
)

// Handler answers the control-plane query protocol from a Store
type Handler struct {
	store *Store
}

// NewHandler creates a handler serving store
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// ServeHTTP handles GET or POST /client/api?command=...&response=json
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.store.takeUnavailable() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	command := r.Form.Get("command")
	if command == "" {
		writeError(w, "", ErrorCodeParam, "command is required")
		return
	}
	if r.Form.Get("response") != "json" {
		writeError(w, command, ErrorCodeParam, "only response=json is supported")
		return
	}

	slog.Debug("Simulated command", "operation", command)

	if strings.EqualFold(command, "queryAsyncJobResult") {
		h.queryJob(w, command, formValue(r, "jobid"))
		return
	}

	params := make(map[string]string)
	for k, v := range r.Form {
		switch strings.ToLower(k) {
		case "command", "response", "sessionkey", "apikey", "signature":
			continue
		}
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	job, err := h.store.Submit(command, params)
	if err != nil {
		var unknown *ErrUnknownCommand
		if errors.As(err, &unknown) {
			writeError(w, command, ErrorCodeUnknown, err.Error())
			return
		}
		writeError(w, command, ErrorCodeServer, err.Error())
		return
	}

	writeResponse(w, command, map[string]any{"jobid": job.ID})
}

func (h *Handler) queryJob(w http.ResponseWriter, command, jobID string) {
	if jobID == "" {
		writeError(w, command, ErrorCodeParam, "jobid is required")
		return
	}

	job, proc, err := h.store.Query(jobID)
	if err != nil {
		writeError(w, command, ErrorCodeServer, err.Error())
		return
	}

	body := map[string]any{
		"jobid":         job.ID,
		"cmd":           job.Command,
		"jobstatus":     job.Status.Code(),
		"jobprocstatus": 0,
		"created":       job.CreatedAt.Format("2006-01-02T15:04:05-0700"),
	}
	if proc != "" {
		body["jobprocstatus"] = proc
	}

	switch job.Status {
	case types.JobStatusSucceeded:
		body["jobresultcode"] = 0
		body["jobresulttype"] = "object"
		for k, v := range job.Script.Result {
			body[k] = v
		}
	case types.JobStatusFailed:
		body["jobresultcode"] = ErrorCodeServer
		body["jobresulttype"] = "object"
		body["jobresult"] = map[string]any{
			"errorcode": ErrorCodeServer,
			"errortext": job.Script.Reason,
		}
	}

	writeResponse(w, command, body)
}

// formValue looks key up case-insensitively, as the control plane does
func formValue(r *http.Request, key string) string {
	for k, v := range r.Form {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func writeResponse(w http.ResponseWriter, command string, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		strings.ToLower(command) + "response": body,
	}); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, command string, code int, text string) {
	key := "errorresponse"
	if command != "" {
		key = strings.ToLower(command) + "response"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		key: map[string]any{
			"uuidList":  []string{},
			"errorcode": code,
			"errortext": text,
		},
	}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

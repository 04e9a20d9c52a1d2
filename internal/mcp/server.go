package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cloudconsole/jobtracker/internal/config"
	"github.com/cloudconsole/jobtracker/internal/history"
	"github.com/cloudconsole/jobtracker/internal/tracker"
	"github.com/cloudconsole/jobtracker/pkg/types"
)

const defaultHistoryLimit = 20

// Runner runs catalog operations to completion
type Runner interface {
	RunCatalog(ctx context.Context, operation string, params map[string]string, opts ...tracker.RunOption) (*types.Outcome, error)
	Run(ctx context.Context, operation string, params map[string]string, interval time.Duration, opts ...tracker.RunOption) (*types.Outcome, error)
}

// Server wraps the mark3labs MCP server
type Server struct {
	mcpServer *server.MCPServer
	runner    Runner
	history   history.Recorder
	catalog   *config.Catalog
	tools     map[string]server.ToolHandlerFunc
}

// NewServer creates the MCP server and registers its tools
func NewServer(runner Runner, hist history.Recorder, catalog *config.Catalog) *Server {
	s := &Server{
		runner:  runner,
		history: hist,
		catalog: catalog,
		tools:   make(map[string]server.ToolHandlerFunc),
	}

	s.mcpServer = server.NewMCPServer(
		"jobtracker",
		"0.1.0",
		server.WithToolCapabilities(false), // Tools don't change at runtime
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.addTool(mcp.NewTool(
		"run_operation",
		mcp.WithDescription("Submit an asynchronous control-plane command and wait until its job settles"),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Command name, e.g. startVirtualMachine"),
		),
		mcp.WithObject("params",
			mcp.Description("Command parameters as a flat object, e.g. {\"id\": \"42\"}"),
		),
		mcp.WithNumber("interval",
			mcp.Description("Polling interval in seconds (default: from the operation catalog)"),
		),
		mcp.WithNumber("max_wait",
			mcp.Description("Give up after this many seconds (default: no limit)"),
		),
	), s.handleRunOperation)

	s.addTool(mcp.NewTool(
		"list_operations",
		mcp.WithDescription("List the asynchronous commands known to the operation catalog"),
	), s.handleListOperations)

	s.addTool(mcp.NewTool(
		"job_history",
		mcp.WithDescription("List recently settled jobs, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of jobs to return (default and fallback for non-positive values: 20)"),
		),
	), s.handleJobHistory)
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.tools[tool.Name] = handler
}

// ToolHandler returns the handler registered for name, or nil
func (s *Server) ToolHandler(name string) server.ToolHandlerFunc {
	return s.tools[name]
}

func (s *Server) handleRunOperation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	params, err := stringParams(request.GetArguments()["params"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var opts []tracker.RunOption
	if maxWait := request.GetFloat("max_wait", 0); maxWait > 0 {
		opts = append(opts, tracker.WithMaxWait(seconds(maxWait)))
	}

	var outcome *types.Outcome
	if interval := request.GetFloat("interval", 0); interval > 0 {
		outcome, err = s.runner.Run(ctx, command, params, seconds(interval), opts...)
	} else {
		outcome, err = s.runner.RunCatalog(ctx, command, params, opts...)
	}
	if err != nil {
		slog.Warn("Tool run_operation failed", "operation", command, "error", err)
		if errors.Is(err, tracker.ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return mcp.NewToolResultError(fmt.Sprintf("stopped waiting for %s: %v", command, err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("%s could not be submitted: %v", command, err)), nil
	}

	body, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if outcome.Failed() {
		return mcp.NewToolResultError(string(body)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Server) handleListOperations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type op struct {
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		Interval    string   `json:"interval"`
		MaxWait     string   `json:"max_wait,omitempty"`
		Params      []string `json:"params,omitempty"`
	}

	ops := []op{}
	for _, name := range s.catalog.Names() {
		o, _ := s.catalog.Lookup(name)
		entry := op{Name: o.Name, Description: o.Description, Interval: o.Interval.String(), Params: o.Params}
		if o.MaxWait > 0 {
			entry.MaxWait = o.MaxWait.String()
		}
		ops = append(ops, entry)
	}

	body, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal catalog: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Server) handleJobHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("job history is not enabled"), nil
	}

	limit := int(request.GetFloat("limit", defaultHistoryLimit))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := s.history.Latest(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read job history: %v", err)), nil
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	body, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// GetMCPServer returns the underlying MCP server for HTTP integration
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// stringParams flattens a JSON object argument into command parameters
func stringParams(raw any) (map[string]string, error) {
	params := make(map[string]string)
	if raw == nil {
		return params, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("params must be an object, got %T", raw)
	}

	for k, v := range obj {
		switch val := v.(type) {
		case string:
			params[k] = val
		case float64:
			if val == math.Trunc(val) && math.Abs(val) < 1e15 {
				params[k] = strconv.FormatInt(int64(val), 10)
			} else {
				params[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		case int:
			params[k] = strconv.Itoa(val)
		case bool:
			params[k] = strconv.FormatBool(val)
		case nil:
			continue
		default:
			return nil, fmt.Errorf("param %q must be a string, number or boolean", k)
		}
	}
	return params, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

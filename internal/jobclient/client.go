package jobclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

const (
	// QueryCommand is the status query command of the control plane
	QueryCommand = "queryAsyncJobResult"

	defaultPath      = "/client/api"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "jobtracker/0.1"
	maxBodyBytes     = 8 << 20
)

// Config configures a control-plane client
type Config struct {
	BaseURL    string
	Path       string
	APIKey     string
	SecretKey  string
	SessionKey string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

// DefaultConfig returns a config for the given base URL with default settings
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Path:      defaultPath,
		Timeout:   defaultTimeout,
		UserAgent: defaultUserAgent,
	}
}

// Client submits operations to the control plane and queries job status.
// It keeps no state between calls.
type Client struct {
	endpoint   *url.URL
	apiKey     string
	secretKey  string
	sessionKey string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a new control-plane client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}

	endpoint, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", endpoint.Scheme)
	}

	path := cfg.Path
	if path == "" {
		path = defaultPath
	}
	endpoint.Path += "/" + strings.TrimLeft(path, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	if (cfg.APIKey == "") != (cfg.SecretKey == "") {
		return nil, errors.New("API key and secret key must be set together")
	}

	return &Client{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		sessionKey: cfg.SessionKey,
		userAgent:  userAgent,
		httpClient: httpClient,
	}, nil
}

// Submit issues an asynchronous command and returns the job id it was accepted under
func (c *Client) Submit(ctx context.Context, command string, params map[string]string) (string, error) {
	if command == "" {
		return "", errors.New("command is required")
	}

	raw, err := c.call(ctx, command, params)
	if err != nil {
		return "", err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &TransportError{Command: command, StatusCode: http.StatusOK, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if env.isError() {
		return "", envelopeError(command, http.StatusOK, &env)
	}
	if env.JobID == "" {
		return "", &APIError{Command: command, StatusCode: http.StatusOK, Text: "response carries no jobid"}
	}

	slog.Debug("Command accepted", "operation", command, "job", string(env.JobID))
	return string(env.JobID), nil
}

// QueryStatus returns the current status of a job
func (c *Client) QueryStatus(ctx context.Context, jobID string) (*types.StatusSnapshot, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}

	raw, err := c.call(ctx, QueryCommand, map[string]string{"jobId": jobID})
	if err != nil {
		return nil, err
	}

	var res jobResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &TransportError{Command: QueryCommand, StatusCode: http.StatusOK, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if res.isError() && res.JobStatus == "" {
		return nil, envelopeError(QueryCommand, http.StatusOK, &res.envelope)
	}

	snap, err := toSnapshot(jobID, raw, &res)
	if err != nil {
		return nil, &TransportError{Command: QueryCommand, StatusCode: http.StatusOK, Err: err}
	}

	slog.Debug("Job status", "job", jobID, "status", snap.Status, "process_status", snap.ProcessStatus)
	return snap, nil
}

// call performs one request and returns the unwrapped response object
func (c *Client) call(ctx context.Context, command string, params map[string]string) (json.RawMessage, error) {
	reqURL := c.buildURL(command, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Command: command, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Command: command, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	slog.Debug("Control-plane response", "operation", command, "status", resp.StatusCode, "duration", time.Since(start))

	raw, unwrapErr := unwrap(body, responseKey(command))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if unwrapErr == nil {
			var env envelope
			if err := json.Unmarshal(raw, &env); err == nil && env.isError() {
				return nil, envelopeError(command, resp.StatusCode, &env)
			}
		}
		return nil, &TransportError{
			Command:    command,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: unexpected status %s", ErrMalformedResponse, resp.Status),
		}
	}

	if unwrapErr != nil {
		return nil, &TransportError{Command: command, StatusCode: resp.StatusCode, Err: unwrapErr}
	}
	return raw, nil
}

// buildURL encodes the command, its parameters and the credentials. Keys are
// sorted so the same call always yields the same URL.
func (c *Client) buildURL(command string, params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("command", command)
	values.Set("response", "json")
	if c.sessionKey != "" {
		values.Set("sessionkey", c.sessionKey)
	}
	if c.apiKey != "" {
		values.Set("apiKey", c.apiKey)
	}

	query := strings.ReplaceAll(values.Encode(), "+", "%20")
	if c.secretKey != "" {
		query += "&signature=" + url.QueryEscape(sign(query, c.secretKey))
	}

	u := *c.endpoint
	u.RawQuery = query
	return u.String()
}

// sign computes the request signature: HMAC-SHA1 over the lower-cased sorted
// query string, base64 encoded.
func sign(query, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strings.ToLower(query)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func envelopeError(command string, statusCode int, env *envelope) *APIError {
	code, _ := strconv.Atoi(string(env.ErrorCode))
	text := env.ErrorText
	if text == "" {
		text = http.StatusText(statusCode)
	}
	return &APIError{Command: command, StatusCode: statusCode, Code: code, Text: text}
}

package jobclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(DefaultConfig(server.URL))
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://example.com", APIKey: "key"})
	assert.Error(t, err, "API key without secret must be rejected")

	c, err := NewClient(Config{BaseURL: "http://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "/client/api", c.endpoint.Path)
}

func TestSubmit_SendsCommandAndParams(t *testing.T) {
	var got url.Values
	var path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		path = r.URL.Path
		writeJSON(w, http.StatusOK, `{"startvirtualmachineresponse":{"jobid":"job-1"}}`)
	})

	jobID, err := client.Submit(context.Background(), "startVirtualMachine", map[string]string{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)

	assert.Equal(t, "/client/api", path)
	assert.Equal(t, "startVirtualMachine", got.Get("command"))
	assert.Equal(t, "42", got.Get("id"))
	assert.Equal(t, "json", got.Get("response"))
}

func TestSubmit_NumericJobID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"attachvolumeresponse":{"jobid":1234}}`)
	})

	jobID, err := client.Submit(context.Background(), "attachVolume", nil)
	require.NoError(t, err)
	assert.Equal(t, "1234", jobID)
}

func TestSubmit_SortedDeterministicURL(t *testing.T) {
	var raw []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw = append(raw, r.URL.RawQuery)
		writeJSON(w, http.StatusOK, `{"createtemplateresponse":{"jobid":"t"}}`)
	})

	params := map[string]string{"zoneid": "z", "name": "my template", "ostypeid": "12", "volumeid": "v"}
	for i := 0; i < 3; i++ {
		_, err := client.Submit(context.Background(), "createTemplate", params)
		require.NoError(t, err)
	}

	require.Len(t, raw, 3)
	assert.Equal(t, raw[0], raw[1])
	assert.Equal(t, raw[1], raw[2])
	assert.Equal(t, "command=createTemplate&name=my%20template&ostypeid=12&response=json&volumeid=v&zoneid=z", raw[0])
}

func TestSubmit_ErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 431, `{"startvirtualmachineresponse":{"uuidList":[],"errorcode":431,"errortext":"Unable to find virtual machine"}}`)
	})

	_, err := client.Submit(context.Background(), "startVirtualMachine", map[string]string{"id": "nope"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 431, apiErr.StatusCode)
	assert.Equal(t, 431, apiErr.Code)
	assert.Equal(t, "Unable to find virtual machine", apiErr.Text)
	assert.False(t, IsTransport(err))
}

func TestSubmit_ErrorEnvelopeWithOKStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"stopvirtualmachineresponse":{"errorcode":"530","errortext":"Internal error"}}`)
	})

	_, err := client.Submit(context.Background(), "stopVirtualMachine", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 530, apiErr.Code)
}

func TestSubmit_MissingJobID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"startvirtualmachineresponse":{}}`)
	})

	_, err := client.Submit(context.Background(), "startVirtualMachine", nil)
	assert.True(t, IsAPI(err))
}

func TestSubmit_MalformedBody(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "not json", status: http.StatusOK, body: "<html>maintenance</html>"},
		{name: "wrong key", status: http.StatusOK, body: `{"a":1,"b":2}`},
		{name: "bad jobid", status: http.StatusOK, body: `{"startvirtualmachineresponse":{"jobid":{"x":1}}}`},
		{name: "proxy error", status: http.StatusBadGateway, body: "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Submit(context.Background(), "startVirtualMachine", nil)
			require.Error(t, err)

			var te *TransportError
			require.True(t, errors.As(err, &te), "got %T: %v", err, err)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.True(t, errors.Is(err, ErrMalformedResponse))
		})
	}
}

func TestSubmit_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client, err := NewClient(DefaultConfig(baseURL))
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), "startVirtualMachine", nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestSubmit_ContextCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"startvirtualmachineresponse":{"jobid":"j"}}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Submit(ctx, "startVirtualMachine", nil)
	assert.True(t, IsTransport(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestQueryStatus_Pending(t *testing.T) {
	var got url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		writeJSON(w, http.StatusOK, `{"queryasyncjobresultresponse":{"jobid":"j1","jobstatus":"0","jobprocstatus":"backing up"}}`)
	})

	snap, err := client.QueryStatus(context.Background(), "j1")
	require.NoError(t, err)

	assert.Equal(t, "queryAsyncJobResult", got.Get("command"))
	assert.Equal(t, "j1", got.Get("jobId"))
	assert.Equal(t, types.JobStatusPending, snap.Status)
	assert.Equal(t, "backing up", snap.ProcessStatus)
	assert.Empty(t, snap.Result)
}

func TestQueryStatus_NumericProcStatusZero(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"queryasyncjobresultresponse":{"jobid":"j1","jobstatus":0,"jobprocstatus":0}}`)
	})

	snap, err := client.QueryStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, snap.Status)
	assert.Empty(t, snap.ProcessStatus)
}

func TestQueryStatus_Succeeded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"queryasyncjobresultresponse":{"jobid":"j1","jobstatus":1,"virtualmachine":[{"id":"42","state":"Running"}]}}`)
	})

	snap, err := client.QueryStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, snap.Status)

	outcome := &types.Outcome{Status: snap.Status, Result: snap.Result}
	var vm struct {
		State string `json:"state"`
	}
	require.NoError(t, outcome.First("virtualmachine", &vm))
	assert.Equal(t, "Running", vm.State)
}

func TestQueryStatus_Failed(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{name: "text", result: `"insufficient capacity"`, want: "insufficient capacity"},
		{name: "object", result: `{"errorcode":533,"errortext":"insufficient capacity"}`, want: "insufficient capacity"},
		{name: "missing", result: `null`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `{"queryasyncjobresultresponse":{"jobid":"j1","jobstatus":2,"jobresult":`+tt.result+`}}`)
			})

			snap, err := client.QueryStatus(context.Background(), "j1")
			require.NoError(t, err)
			assert.Equal(t, types.JobStatusFailed, snap.Status)
			assert.Equal(t, tt.want, snap.Reason)
		})
	}
}

func TestQueryStatus_UnknownStatusCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"queryasyncjobresultresponse":{"jobid":"j1","jobstatus":7}}`)
	})

	_, err := client.QueryStatus(context.Background(), "j1")
	assert.True(t, IsTransport(err))
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestQueryStatus_ErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 530, `{"queryasyncjobresultresponse":{"errorcode":530,"errortext":"job not found"}}`)
	})

	_, err := client.QueryStatus(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "job not found", apiErr.Text)
}

func TestSignedRequests(t *testing.T) {
	const secret = "s3cr3t"
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		writeJSON(w, http.StatusOK, `{"rebootvirtualmachineresponse":{"jobid":"j"}}`)
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL)
	cfg.APIKey = "AbC"
	cfg.SecretKey = secret
	cfg.SessionKey = "sess"
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), "rebootVirtualMachine", map[string]string{"id": "a b"})
	require.NoError(t, err)

	idx := strings.Index(query, "&signature=")
	require.Positive(t, idx)
	unsigned := query[:idx]
	signature, err := url.QueryUnescape(query[idx+len("&signature="):])
	require.NoError(t, err)

	assert.Equal(t, "apiKey=AbC&command=rebootVirtualMachine&id=a%20b&response=json&sessionkey=sess", unsigned)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strings.ToLower(unsigned)))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), signature)
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":12,"c":null}`), &v))
	assert.Equal(t, flexString("x"), v.A)
	assert.Equal(t, flexString("12"), v.B)
	assert.Equal(t, flexString(""), v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":[1]}`), &v))
}

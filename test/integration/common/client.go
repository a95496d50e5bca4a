package common

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// Client drives a running stepflow server over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(port int) *Client {
	return &Client{
		BaseURL: fmt.Sprintf("http://localhost:%d", port),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WaitHealthy polls /healthz until the server answers.
func (c *Client) WaitHealthy(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := c.HTTP.Get(c.BaseURL + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond, "server never became healthy")
}

func (c *Client) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	require.NoError(t, err, "POST %s", path)
	return resp
}

func (c *Client) CreateWorkflow(t *testing.T, definition string) string {
	t.Helper()
	resp := c.post(t, "/api/workflows", definition)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created, err := util.DecodeJSONBodyResponse[models.CreateWorkflowResponse](resp)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	return created.ID
}

func (c *Client) StartWorkflow(t *testing.T, workflowID, initial string) models.WorkflowInstanceResponse {
	t.Helper()
	resp := c.post(t, "/api/workflows/"+workflowID+"/start", initial)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	started, err := util.DecodeJSONBodyResponse[models.StartWorkflowResponse](resp)
	require.NoError(t, err)
	require.Equal(t, "Workflow started", started.Message)
	return started.Instance
}

func (c *Client) GetInstance(t *testing.T, id string) models.WorkflowInstanceResponse {
	t.Helper()
	resp, err := c.HTTP.Get(c.BaseURL + "/api/instances/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inst, err := util.DecodeJSONBodyResponse[models.WorkflowInstanceResponse](resp)
	require.NoError(t, err)
	return inst
}

// WaitForInstance polls until cond holds for the instance and returns it.
func (c *Client) WaitForInstance(t *testing.T, id string, cond func(models.WorkflowInstanceResponse) bool) models.WorkflowInstanceResponse {
	t.Helper()
	var last models.WorkflowInstanceResponse
	require.Eventually(t, func() bool {
		last = c.GetInstance(t, id)
		return cond(last)
	}, 15*time.Second, 100*time.Millisecond, "instance %s never reached the expected state", id)
	return last
}

func HasStatus(status string) func(models.WorkflowInstanceResponse) bool {
	return func(inst models.WorkflowInstanceResponse) bool { return inst.Status == status }
}

// HasLog matches once a log entry with the given step and status exists.
func HasLog(step, status string) func(models.WorkflowInstanceResponse) bool {
	return func(inst models.WorkflowInstanceResponse) bool {
		for _, l := range inst.Logs {
			if l.Step == step && string(l.Status) == status {
				return true
			}
		}
		return false
	}
}

// LogTrail flattens the log into "step:STATUS" pairs.
func LogTrail(inst models.WorkflowInstanceResponse) []string {
	out := make([]string, 0, len(inst.Logs))
	for _, l := range inst.Logs {
		out = append(out, l.Step+":"+string(l.Status))
	}
	return out
}

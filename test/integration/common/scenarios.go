package common

import (
	"context"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/stepflow/internal/config"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

// WaitWorkflow notifies, pauses two hours, then finishes.
const WaitWorkflow = `{
  "name": "wait-workflow",
  "trigger": {"id": "api", "type": "API_CALL"},
  "steps": [
    {"id": "notify", "type": "action", "action_type": "EMAIL", "endpoint": "ops@example.com", "next": ["pause"]},
    {"id": "pause", "type": "wait_for", "wait_time": {"type": "hours", "value": 2}, "next": ["finish"]},
    {"id": "finish", "type": "action", "action_type": "DB_UPDATE", "endpoint": "orders.done"}
  ]
}`

// BranchWorkflow routes on the amount in the instance context.
const BranchWorkflow = `{
  "name": "branch-workflow",
  "trigger": {"id": "api", "type": "API_CALL"},
  "steps": [
    {"id": "check", "type": "condition", "condition": {"type": "greater_than", "field": "amount", "value": 100, "true_next": ["big"], "false_next": ["small"]}},
    {"id": "big", "type": "action", "action_type": "API_CALL", "endpoint": "/big"},
    {"id": "small", "type": "action", "action_type": "API_CALL", "endpoint": "/small"}
  ]
}`

// LoopWorkflow cycles until the overflow guard stops it.
const LoopWorkflow = `{
  "name": "loop-workflow",
  "trigger": {"id": "api", "type": "API_CALL"},
  "steps": [
    {"id": "ping", "type": "action", "action_type": "API_CALL", "endpoint": "/ping", "next": ["pong"]},
    {"id": "pong", "type": "action", "action_type": "API_CALL", "endpoint": "/pong", "next": ["ping"]}
  ]
}`

// Clock is satisfied by integration.FakeClock.
type Clock interface {
	core.Clock
	Add(d time.Duration)
}

// StartApp boots a fully wired app from the environment and stops it when the
// test ends.
func StartApp(t *testing.T, port int, clock Clock) *Client {
	t.Helper()
	t.Setenv(config.HTTP_ADDR, ":"+strconv.Itoa(port))
	t.Setenv(config.ENGINE_CHECK_DB_INTERVAL, "50ms")

	app, err := stepflow.SetupWithClock(clock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := app.Run(ctx); err != nil {
			slog.Error("Engine exited with error", "error", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		app.Close()
	})

	client := NewClient(port)
	client.WaitHealthy(t)
	return client
}

// RunWaitWorkflow checks that a wait step parks the instance until the clock
// passes the deadline.
func RunWaitWorkflow(t *testing.T, client *Client, clock Clock) {
	wfID := client.CreateWorkflow(t, WaitWorkflow)
	started := client.StartWorkflow(t, wfID, `{"email":"a@example.com"}`)
	require.Equal(t, "IN_PROGRESS", started.Status)

	parked := client.WaitForInstance(t, started.ID, HasLog("pause", "WAITING"))
	assert.Equal(t, "IN_PROGRESS", parked.Status)
	require.NotNil(t, parked.CurrentStep)
	assert.Equal(t, "finish", *parked.CurrentStep)

	// nothing happens before the deadline
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, "IN_PROGRESS", client.GetInstance(t, started.ID).Status)

	clock.Add(2*time.Hour + time.Minute)
	done := client.WaitForInstance(t, started.ID, HasStatus("COMPLETED"))
	assert.Equal(t, []string{"notify:COMPLETED", "pause:WAITING", "finish:COMPLETED"}, LogTrail(done))
	assert.Equal(t, "a@example.com", done.Context["email"])
}

func RunBranchWorkflow(t *testing.T, client *Client) {
	wfID := client.CreateWorkflow(t, BranchWorkflow)

	big := client.StartWorkflow(t, wfID, `{"amount":150}`)
	small := client.StartWorkflow(t, wfID, `{"amount":20}`)

	bigDone := client.WaitForInstance(t, big.ID, HasStatus("COMPLETED"))
	smallDone := client.WaitForInstance(t, small.ID, HasStatus("COMPLETED"))
	assert.Equal(t, []string{"check:COMPLETED", "big:COMPLETED"}, LogTrail(bigDone))
	assert.Equal(t, []string{"check:COMPLETED", "small:COMPLETED"}, LogTrail(smallDone))
}

func RunLoopWorkflow(t *testing.T, client *Client) {
	wfID := client.CreateWorkflow(t, LoopWorkflow)
	started := client.StartWorkflow(t, wfID, `{"counter_limit":5}`)

	done := client.WaitForInstance(t, started.ID, HasStatus("OVERFLOW"))
	assert.Len(t, done.Logs, 5)
	assert.Nil(t, done.CurrentStep)
}

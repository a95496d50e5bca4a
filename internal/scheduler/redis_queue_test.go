package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *movableClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (c *movableClock) Sleep(d time.Duration)                  {}
func (c *movableClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis queue tests need docker")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func newTestRedisQueue(t *testing.T, client *redis.Client, clock *movableClock) *RedisQueue {
	cfg := Config{
		PollInterval:   20 * time.Millisecond,
		RepairInterval: time.Hour,
		RepairAfter:    time.Minute,
		BatchSize:      4,
		Workers:        2,
		Retry:          models.RetryConfig{MaxRetryCount: 2, RetryIntervalMin: time.Second, RetryIntervalMax: time.Minute},
	}
	return NewRedisQueue(client, t.Name()+":", cfg, clock, nil)
}

func TestRedisQueue(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()

	t.Run("due time gates claims", func(t *testing.T) {
		clock := &movableClock{now: time.UnixMilli(1_700_000_000_000)}
		q := newTestRedisQueue(t, client, clock)

		at := clock.Now().Add(2 * time.Hour)
		require.NoError(t, q.ScheduleAt(ctx, at, "inst-1"))
		due, ok, err := q.DueAt(ctx, "inst-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, due.Equal(at))

		ids, err := q.claim(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)

		clock.Add(2 * time.Hour)
		ids, err = q.claim(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"inst-1"}, ids)

		_, ok, err = q.DueAt(ctx, "inst-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("in-flight instance is not claimed twice", func(t *testing.T) {
		clock := &movableClock{now: time.UnixMilli(1_700_000_000_000)}
		q := newTestRedisQueue(t, client, clock)

		require.NoError(t, q.ScheduleNow(ctx, "inst-1"))
		ids, err := q.claim(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, []string{"inst-1"}, ids)

		// the handler schedules the next advance while still processing
		require.NoError(t, q.ScheduleNow(ctx, "inst-1"))
		ids, err = q.claim(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)

		require.NoError(t, q.ack(ctx, "inst-1"))
		ids, err = q.claim(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"inst-1"}, ids)
	})

	t.Run("failures retry then give up", func(t *testing.T) {
		clock := &movableClock{now: time.UnixMilli(1_700_000_000_000)}
		q := newTestRedisQueue(t, client, clock)
		cause := errors.New("store unavailable")

		require.NoError(t, q.ScheduleNow(ctx, "inst-1"))
		_, err := q.claim(ctx, 10)
		require.NoError(t, err)
		require.NoError(t, q.fail(ctx, "inst-1", cause))

		due, ok, err := q.DueAt(ctx, "inst-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, due.After(clock.Now()))

		clock.Add(time.Hour)
		ids, err := q.claim(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, []string{"inst-1"}, ids)
		require.NoError(t, q.fail(ctx, "inst-1", cause))

		pending, err := q.Pending(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)
		_, ok, err = q.DueAt(ctx, "inst-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired leases are recovered", func(t *testing.T) {
		clock := &movableClock{now: time.UnixMilli(1_700_000_000_000)}
		q := newTestRedisQueue(t, client, clock)

		require.NoError(t, q.ScheduleNow(ctx, "inst-1"))
		_, err := q.claim(ctx, 10)
		require.NoError(t, err)

		n, err := q.recoverExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		clock.Add(2 * time.Minute)
		n, err = q.recoverExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ids, err := q.claim(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"inst-1"}, ids)
	})

	t.Run("run delivers to the handler", func(t *testing.T) {
		clock := &movableClock{now: time.Now()}
		q := newTestRedisQueue(t, client, clock)

		delivered := make(chan string, 4)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- q.Run(runCtx, func(ctx context.Context, id string) error {
				delivered <- id
				return nil
			})
		}()

		require.NoError(t, q.ScheduleNow(ctx, "inst-a"))
		require.NoError(t, q.ScheduleNow(ctx, "inst-b"))

		got := map[string]bool{}
		for len(got) < 2 {
			select {
			case id := <-delivered:
				got[id] = true
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out, delivered %v", got)
			}
		}
		cancel()
		require.NoError(t, <-done)

		pending, err := q.Pending(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)
	})
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RealZimboGuy/stepflow/internal/metrics"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

const backendRedis = "redis"

// claimScript moves due instance ids from the ready set into the processing
// set with a lease. Ids already being processed stay in the ready set so one
// instance is never advanced twice at the same time by this queue.
var claimScript = redis.NewScript(`
local ready = KEYS[1]
local processing = KEYS[2]
local now = tonumber(ARGV[1])
local lease = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local due = redis.call('ZRANGEBYSCORE', ready, '-inf', now, 'LIMIT', 0, limit)
local claimed = {}
for _, id in ipairs(due) do
  if redis.call('ZSCORE', processing, id) == false then
    redis.call('ZREM', ready, id)
    redis.call('ZADD', processing, now + lease, id)
    table.insert(claimed, id)
  end
end
return claimed
`)

// recoverScript returns ids whose lease ran out to the ready set.
var recoverScript = redis.NewScript(`
local ready = KEYS[1]
local processing = KEYS[2]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local expired = redis.call('ZRANGEBYSCORE', processing, '-inf', now, 'LIMIT', 0, limit)
for _, id in ipairs(expired) do
  redis.call('ZREM', processing, id)
  redis.call('ZADD', ready, 'NX', now, id)
end
return #expired
`)

// RedisQueue schedules advances in Redis sorted sets scored by their due time
// in unix milliseconds. It is both the enqueue and the dispatch side.
type RedisQueue struct {
	client  *redis.Client
	prefix  string
	cfg     Config
	clock   core.Clock
	metrics *metrics.Metrics
	wakeup  chan struct{}
}

func NewRedisQueue(client *redis.Client, prefix string, cfg Config, clock core.Clock, m *metrics.Metrics) *RedisQueue {
	cfg.applyDefaults()
	return &RedisQueue{
		client:  client,
		prefix:  prefix,
		cfg:     cfg,
		clock:   core.OrReal(clock),
		metrics: m,
		wakeup:  make(chan struct{}, 1),
	}
}

func (q *RedisQueue) readyKey() string      { return q.prefix + "ready" }
func (q *RedisQueue) processingKey() string { return q.prefix + "processing" }
func (q *RedisQueue) attemptsKey() string   { return q.prefix + "attempts" }

func (q *RedisQueue) ScheduleNow(ctx context.Context, instanceID string) error {
	if err := q.ScheduleAt(ctx, q.clock.Now(), instanceID); err != nil {
		return err
	}
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// ScheduleAt sets the due time of instanceID; a later call replaces an
// earlier pending one.
func (q *RedisQueue) ScheduleAt(ctx context.Context, at time.Time, instanceID string) error {
	err := q.client.ZAdd(ctx, q.readyKey(), redis.Z{Score: float64(at.UnixMilli()), Member: instanceID}).Err()
	if err != nil {
		return fmt.Errorf("schedule %s in redis: %w", instanceID, err)
	}
	return nil
}

// Run delivers due instance ids to handler until ctx is cancelled.
func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	work := make(chan string, q.cfg.BatchSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); q.recoverLoop(ctx) }()

	slog.InfoContext(ctx, "Starting redis scheduler", "workers", q.cfg.Workers, "prefix", q.prefix)
	for i := 0; i < q.cfg.Workers; i++ {
		wg.Add(1)
		workerCtx := context.WithValue(ctx, core.CtxKeyWorkerId, i)
		go func() {
			defer wg.Done()
			for id := range work {
				q.process(workerCtx, id, handler)
			}
		}()
	}

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Redis scheduler stopping due to context cancel")
			close(work)
			wg.Wait()
			return nil
		case <-ticker.C:
			q.poll(ctx, work)
		case <-q.wakeup:
			q.poll(ctx, work)
		}
	}
}

func (q *RedisQueue) poll(ctx context.Context, work chan<- string) {
	free := cap(work) - len(work)
	if free <= 0 {
		return
	}
	ids, err := q.claim(ctx, free)
	if err != nil {
		slog.ErrorContext(ctx, "Error claiming from redis", "error", err)
		return
	}
	for _, id := range ids {
		select {
		case work <- id:
		case <-ctx.Done():
			return
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context, limit int) ([]string, error) {
	now := q.clock.Now().UnixMilli()
	return claimScript.Run(ctx, q.client, []string{q.readyKey(), q.processingKey()},
		now, q.cfg.RepairAfter.Milliseconds(), limit).StringSlice()
}

func (q *RedisQueue) process(ctx context.Context, instanceID string, handler Handler) {
	bookkeeping := context.WithoutCancel(ctx)
	err := handler(ctx, instanceID)
	if err == nil {
		if err := q.ack(bookkeeping, instanceID); err != nil {
			slog.ErrorContext(ctx, "Failed to ack redis job", "instance_id", instanceID, "error", err)
		}
		q.metrics.Job(backendRedis, "done")
		return
	}
	if ferr := q.fail(bookkeeping, instanceID, err); ferr != nil {
		slog.ErrorContext(ctx, "Failed to record redis job failure", "instance_id", instanceID, "error", ferr)
	}
}

func (q *RedisQueue) ack(ctx context.Context, instanceID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.processingKey(), instanceID)
		pipe.HDel(ctx, q.attemptsKey(), instanceID)
		return nil
	})
	return err
}

// fail puts the id back with a retry delay unless it has used up its budget.
// A retry never replaces an advance the handler already scheduled.
func (q *RedisQueue) fail(ctx context.Context, instanceID string, cause error) error {
	attempts, err := q.client.HIncrBy(ctx, q.attemptsKey(), instanceID, 1).Result()
	if err != nil {
		return err
	}
	if q.cfg.Retry.Exhausted(int(attempts)) {
		slog.ErrorContext(ctx, "Redis job failed permanently", "instance_id", instanceID, "attempts", attempts, "error", cause)
		q.metrics.Job(backendRedis, "failed")
		return q.ack(ctx, instanceID)
	}
	next := q.clock.Now().Add(q.cfg.Retry.SlidingInterval(int(attempts)))
	slog.WarnContext(ctx, "Redis job failed, retrying", "instance_id", instanceID, "attempt", attempts, "next", next, "error", cause)
	q.metrics.Job(backendRedis, "retried")
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.processingKey(), instanceID)
		pipe.ZAddNX(ctx, q.readyKey(), redis.Z{Score: float64(next.UnixMilli()), Member: instanceID})
		return nil
	})
	return err
}

func (q *RedisQueue) recoverLoop(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.RepairInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.recoverExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "Error recovering expired redis leases", "error", err)
			}
		}
	}
}

func (q *RedisQueue) recoverExpired(ctx context.Context) (int, error) {
	n, err := recoverScript.Run(ctx, q.client, []string{q.readyKey(), q.processingKey()},
		q.clock.Now().UnixMilli(), 100).Int()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.metrics.Job(backendRedis, "repaired")
		slog.WarnContext(ctx, "Recovered expired redis leases", "count", n)
	}
	return n, nil
}

// Pending reports how many instances are waiting in the ready set.
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.readyKey()).Result()
}

// DueAt returns the scheduled time of instanceID, if any.
func (q *RedisQueue) DueAt(ctx context.Context, instanceID string) (time.Time, bool, error) {
	score, err := q.client.ZScore(ctx, q.readyKey(), instanceID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}

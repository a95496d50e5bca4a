package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/config"
	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/metrics"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

const backendDatabase = "database"

// ExecutorStore is satisfied by repository.ExecutorRepository.
type ExecutorStore interface {
	Save(ctx context.Context, e *domain.Executor) (int64, error)
	UpdateLastActive(ctx context.Context, id int64, ts time.Time) error
}

type Config struct {
	ExecutorName      string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	RepairInterval    time.Duration
	RepairAfter       time.Duration
	BatchSize         int
	Workers           int
	Retry             models.RetryConfig
}

// ConfigFromSettings reads the STEPFLOW_ENGINE_* settings.
func ConfigFromSettings() Config {
	return Config{
		ExecutorName:      config.GetSystemSettingString(config.EXECUTOR_NAME),
		PollInterval:      config.GetSystemSettingDuration(config.ENGINE_CHECK_DB_INTERVAL),
		HeartbeatInterval: 30 * time.Second,
		RepairInterval:    config.GetSystemSettingDuration(config.ENGINE_STUCK_JOBS_INTERVAL),
		RepairAfter:       time.Duration(config.GetSystemSettingInteger(config.ENGINE_STUCK_JOBS_REPAIR_AFTER_MINUTES)) * time.Minute,
		BatchSize:         config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE),
		Workers:           config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE),
		Retry:             models.DefaultRetryConfig(config.GetSystemSettingInteger(config.ENGINE_JOB_MAX_RETRIES)),
	}
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.RepairInterval <= 0 {
		c.RepairInterval = time.Minute
	}
	if c.RepairAfter <= 0 {
		c.RepairAfter = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10 // fallback default
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ExecutorName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			c.ExecutorName = "stepflow-engine"
		} else {
			c.ExecutorName = hostname
		}
	}
}

// Manager is the dispatch side of the database scheduler: it polls due jobs,
// claims them for this executor and hands them to a pool of workers.
type Manager struct {
	queue      *JobQueue
	jobs       JobStore
	executors  ExecutorStore
	cfg        Config
	clock      core.Clock
	metrics    *metrics.Metrics
	executorID int64
	work       chan *domain.Job
}

func NewManager(queue *JobQueue, executors ExecutorStore, cfg Config, m *metrics.Metrics) *Manager {
	cfg.applyDefaults()
	return &Manager{
		queue:     queue,
		jobs:      queue.jobs,
		executors: executors,
		cfg:       cfg,
		clock:     queue.clock,
		metrics:   m,
		work:      make(chan *domain.Job, cfg.BatchSize),
	}
}

func (m *Manager) ScheduleNow(ctx context.Context, instanceID string) error {
	return m.queue.ScheduleNow(ctx, instanceID)
}

func (m *Manager) ScheduleAt(ctx context.Context, at time.Time, instanceID string) error {
	return m.queue.ScheduleAt(ctx, at, instanceID)
}

// Run blocks until ctx is cancelled, delivering every due job to handler.
// In-flight jobs finish before Run returns.
func (m *Manager) Run(ctx context.Context, handler Handler) error {
	if err := m.registerExecutor(ctx); err != nil {
		return err
	}
	ctx = context.WithValue(ctx, core.CtxKeyExecutorId, m.executorID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.heartbeat(ctx) }()
	go func() { defer wg.Done(); m.repairLoop(ctx) }()

	slog.InfoContext(ctx, "Starting job scheduler", "workers", m.cfg.Workers, "queue_size", m.cfg.BatchSize, "executor_id", m.executorID)
	var workers sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		workers.Add(1)
		workerCtx := context.WithValue(ctx, core.CtxKeyWorkerId, i)
		go func(id int) {
			defer workers.Done()
			m.worker(workerCtx, id, handler)
		}(i)
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	slog.InfoContext(ctx, "Job scheduler started", "poll_interval", m.cfg.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Job scheduler stopping due to context cancel")
			close(m.work)
			workers.Wait()
			wg.Wait()
			return nil
		case <-ticker.C:
			m.poll(ctx)
		case <-m.queue.wakeup:
			m.poll(ctx)
		}
	}
}

func (m *Manager) registerExecutor(ctx context.Context) error {
	now := m.clock.Now()
	exec := &domain.Executor{Name: m.cfg.ExecutorName, Started: now, LastActive: now}
	id, err := m.executors.Save(ctx, exec)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register executor", "error", err)
		return err
	}
	m.executorID = id
	slog.InfoContext(ctx, "Registered executor", "executor_id", id, "name", m.cfg.ExecutorName)
	return nil
}

func (m *Manager) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.executors.UpdateLastActive(ctx, m.executorID, m.clock.Now()); err != nil {
				slog.ErrorContext(ctx, "Failed to update executor last_active", "executor_id", m.executorID, "error", err)
			} else {
				slog.DebugContext(ctx, "Updated executor last_active", "executor_id", m.executorID)
			}
		}
	}
}

// poll claims up to the free queue capacity of due jobs.
func (m *Manager) poll(ctx context.Context) {
	free := cap(m.work) - len(m.work)
	if free <= 0 {
		slog.WarnContext(ctx, "Job queue full, skipping poll, possibly long running advances")
		return
	}

	due, err := m.jobs.FindDueJobs(ctx, free)
	if err != nil {
		slog.ErrorContext(ctx, "Error fetching due jobs", "error", err)
		return
	}
	for _, job := range due {
		claimed, err := m.jobs.Claim(ctx, job.ID, m.executorID)
		if err != nil {
			slog.ErrorContext(ctx, "Error claiming job", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			slog.DebugContext(ctx, "Job claimed by another executor", "job_id", job.ID, "instance_id", job.InstanceID)
			continue
		}
		select {
		case m.work <- job:
		case <-ctx.Done():
			return
		}
	}
}

// repairLoop finds jobs claimed by executors that stopped heartbeating and
// makes them PENDING again.
func (m *Manager) repairLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RepairInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Job repair service stopping due to context cancel")
			return
		case <-ticker.C:
			m.repair(ctx)
		}
	}
}

func (m *Manager) repair(ctx context.Context) int {
	cutoff := m.clock.Now().Add(-m.cfg.RepairAfter)
	stuck, err := m.jobs.FindStuckJobs(ctx, cutoff, 100)
	if err != nil {
		slog.ErrorContext(ctx, "Error finding stuck jobs", "error", err)
		return 0
	}
	repaired := 0
	for _, job := range stuck {
		ok, err := m.jobs.Release(ctx, job.ID, job.Modified)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to release stuck job", "job_id", job.ID, "error", err)
			continue
		}
		if ok {
			repaired++
			m.metrics.Job(backendDatabase, "repaired")
			slog.WarnContext(ctx, "Repaired stuck job", "job_id", job.ID, "instance_id", job.InstanceID, "previous_executor", job.ExecutorID.Int64)
		}
	}
	if repaired > 0 {
		m.queue.Wakeup()
	}
	return repaired
}

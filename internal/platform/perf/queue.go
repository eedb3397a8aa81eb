package perf

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrJobNotFound is returned for unknown batch job ids.
var ErrJobNotFound = errors.New("batch job not found")

// BatchJobType classifies an ad hoc batch job.
type BatchJobType string

const (
	BatchImport BatchJobType = "import"
	BatchExport BatchJobType = "export"
	BatchSync   BatchJobType = "sync"
)

// Batch job status values.
const (
	BatchPending   = "pending"
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
	BatchCancelled = "cancelled"
)

// JobPerformance reports per-job throughput and memory observations.
type JobPerformance struct {
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	ThroughputPerSecond float64 `json:"throughput_per_second"`
	MemoryUsageMB       float64 `json:"memory_usage_mb"`
}

// BatchJob is a lightweight unit of ad hoc import/export/sync work, distinct
// from the scheduler's durable sync jobs. Batch jobs live only in memory.
type BatchJob struct {
	ID                 uuid.UUID      `json:"id"`
	Type               BatchJobType   `json:"type"`
	OrganizationID     uuid.UUID      `json:"organization_id"`
	ResourceType       string         `json:"resource_type,omitempty"`
	Status             string         `json:"status"`
	Priority           int            `json:"priority"`
	ResourceIDs        []string       `json:"-"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Progress           float64        `json:"progress"`
	TotalResources     int            `json:"total_resources"`
	ProcessedResources int            `json:"processed_resources"`
	FailedResources    int            `json:"failed_resources"`
	Errors             []string       `json:"errors,omitempty"`
	Performance        JobPerformance `json:"performance"`
}

// ProcessFunc handles one chunk of a batch job's resource ids.
type ProcessFunc func(ctx context.Context, job *BatchJob, batch []string) error

// QueueStats is a point-in-time summary of the batch queue.
type QueueStats struct {
	QueuedJobs              int           `json:"queued_jobs"`
	RunningJobs             int           `json:"running_jobs"`
	CompletedJobs           int           `json:"completed_jobs"`
	FailedJobs              int           `json:"failed_jobs"`
	AvgJobDuration          time.Duration `json:"avg_job_duration"`
	TotalResourcesProcessed int           `json:"total_resources_processed"`
}

// Queue runs ad hoc batch jobs with priority ordering and bounded
// concurrency. Higher priority runs first, ties broken by submission time.
type Queue struct {
	cfg     Config
	log     zerolog.Logger
	limiter *Limiter
	process ProcessFunc

	mu      sync.Mutex
	jobs    map[uuid.UUID]*BatchJob
	running map[uuid.UUID]context.CancelFunc
	started bool
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue builds a batch job queue. process is invoked once per chunk of a
// running job.
func NewQueue(cfg Config, limiter *Limiter, log zerolog.Logger, process ProcessFunc) *Queue {
	return &Queue{
		cfg:     cfg,
		log:     log.With().Str("component", "batch-queue").Logger(),
		limiter: limiter,
		process: process,
		jobs:    make(map[uuid.UUID]*BatchJob),
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Submit enqueues a batch job. Priority comes from the resource-type
// priority table unless an explicit priority is given.
func (q *Queue) Submit(jobType BatchJobType, orgID uuid.UUID, resourceIDs []string, resourceType string, priority int) uuid.UUID {
	if priority <= 0 {
		priority = q.cfg.priorityFor(resourceType)
	}
	job := &BatchJob{
		ID:             uuid.New(),
		Type:           jobType,
		OrganizationID: orgID,
		ResourceType:   resourceType,
		Status:         BatchPending,
		Priority:       priority,
		ResourceIDs:    resourceIDs,
		CreatedAt:      time.Now().UTC(),
		TotalResources: len(resourceIDs),
	}
	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	q.log.Info().
		Str("job", job.ID.String()).
		Str("type", string(jobType)).
		Int("resources", len(resourceIDs)).
		Int("priority", priority).
		Msg("batch job submitted")
	return job.ID
}

// JobStatus returns a snapshot of one job.
func (q *Queue) JobStatus(id uuid.UUID) (*BatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	snap := *job
	return &snap, nil
}

// OrganizationJobs lists an organization's jobs, newest first.
func (q *Queue) OrganizationJobs(orgID uuid.UUID) []BatchJob {
	q.mu.Lock()
	out := make([]BatchJob, 0)
	for _, job := range q.jobs {
		if job.OrganizationID == orgID {
			out = append(out, *job)
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel marks a pending job cancelled or signals a running one to stop at
// its next chunk boundary.
func (q *Queue) Cancel(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	switch job.Status {
	case BatchPending:
		job.Status = BatchCancelled
	case BatchRunning:
		job.Status = BatchCancelled
		if cancel, ok := q.running[id]; ok {
			cancel()
		}
	}
	return nil
}

// Start begins the dispatch loop. Idempotent.
func (q *Queue) Start(ctx context.Context, interval time.Duration) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	ctx, q.stop = context.WithCancel(ctx)
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.dispatch(ctx)
			}
		}
	}()
}

// Stop halts dispatching and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	stop := q.stop
	q.mu.Unlock()

	stop()
	q.wg.Wait()
}

func (q *Queue) dispatch(ctx context.Context) {
	q.mu.Lock()
	free := q.cfg.ConcurrentBatches - len(q.running)
	if free <= 0 {
		q.mu.Unlock()
		return
	}

	pending := make([]*BatchJob, 0)
	for _, job := range q.jobs {
		if job.Status == BatchPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > free {
		pending = pending[:free]
	}

	for _, job := range pending {
		job.Status = BatchRunning
		now := time.Now().UTC()
		job.StartedAt = &now
		jobCtx, cancel := context.WithCancel(ctx)
		q.running[job.ID] = cancel
		q.wg.Add(1)
		go q.execute(jobCtx, job)
	}
	q.mu.Unlock()
}

func (q *Queue) execute(ctx context.Context, job *BatchJob) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		if cancel, ok := q.running[job.ID]; ok {
			cancel()
			delete(q.running, job.ID)
		}
		q.mu.Unlock()
	}()

	start := time.Now()
	batches := chunk(job.ResourceIDs, q.cfg.BatchSize)

	for _, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		q.mu.Lock()
		cancelled := job.Status == BatchCancelled
		q.mu.Unlock()
		if cancelled {
			return
		}

		run := func() error { return q.process(ctx, job, batch) }
		var err error
		if q.limiter != nil {
			err = q.limiter.WithRateLimit(ctx, LimiterBatch, run)
		} else {
			err = run()
		}

		q.mu.Lock()
		if err != nil {
			job.FailedResources += len(batch)
			job.Errors = append(job.Errors, fmt.Sprintf("batch failed: %v", err))
		} else {
			job.ProcessedResources += len(batch)
		}
		if job.TotalResources > 0 {
			job.Progress = float64(job.ProcessedResources) / float64(job.TotalResources) * 100
		}
		q.mu.Unlock()
	}

	elapsed := time.Since(start)
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	q.mu.Lock()
	defer q.mu.Unlock()
	if job.Status == BatchCancelled {
		return
	}
	if job.ProcessedResources > 0 {
		job.Performance.AvgProcessingTimeMs = float64(elapsed.Milliseconds()) / float64(job.ProcessedResources)
		job.Performance.ThroughputPerSecond = float64(job.ProcessedResources) / elapsed.Seconds()
	}
	job.Performance.MemoryUsageMB = float64(mem.HeapAlloc) / 1024 / 1024

	now := time.Now().UTC()
	job.CompletedAt = &now
	if job.FailedResources == 0 {
		job.Status = BatchCompleted
	} else {
		job.Status = BatchFailed
	}
	q.log.Info().
		Str("job", job.ID.String()).
		Str("status", job.Status).
		Int("processed", job.ProcessedResources).
		Int("failed", job.FailedResources).
		Dur("elapsed", elapsed).
		Msg("batch job finished")
}

// Stats summarizes the queue.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{RunningJobs: len(q.running)}
	var completedDur time.Duration
	for _, job := range q.jobs {
		stats.TotalResourcesProcessed += job.ProcessedResources
		switch job.Status {
		case BatchPending:
			stats.QueuedJobs++
		case BatchCompleted:
			stats.CompletedJobs++
			if job.StartedAt != nil && job.CompletedAt != nil {
				completedDur += job.CompletedAt.Sub(*job.StartedAt)
			}
		case BatchFailed:
			stats.FailedJobs++
		}
	}
	if stats.CompletedJobs > 0 {
		stats.AvgJobDuration = completedDur / time.Duration(stats.CompletedJobs)
	}
	return stats
}

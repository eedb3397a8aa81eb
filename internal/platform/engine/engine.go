// Package engine schedules and executes EHR synchronization jobs. Jobs are
// persisted through the syncjob repository, claimed with a compare-and-swap
// on status so concurrent schedulers never run the same job twice, and
// executed with bounded concurrency.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrsync/internal/domain/conflict"
	"github.com/ehr/ehrsync/internal/domain/connection"
	"github.com/ehr/ehrsync/internal/domain/resource"
	"github.com/ehr/ehrsync/internal/domain/syncjob"
	"github.com/ehr/ehrsync/internal/platform/notification"
	"github.com/ehr/ehrsync/internal/platform/perf"
)

// listDueLimit bounds how many claimable jobs one scan considers.
const listDueLimit = 50

// Config holds the scheduler tunables.
type Config struct {
	ScanInterval      time.Duration
	MaxConcurrentJobs int
}

// Deps wires the engine to its collaborators.
type Deps struct {
	Jobs        syncjob.Repository
	Resources   resource.Repository
	Connections connection.Repository
	Fetcher     Fetcher
	Resolver    *conflict.Resolver
	Perf        *perf.Optimizer
	Notifier    notification.Sink
	Logger      zerolog.Logger
}

// Engine claims due sync jobs and drives them to a terminal state.
type Engine struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu      sync.Mutex
	started bool
	stop    context.CancelFunc
	wg      sync.WaitGroup
	claims  map[uuid.UUID]context.CancelFunc
}

// New builds an engine. Zero config values fall back to defaults.
func New(cfg Config, deps Deps) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 3
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NopSink{}
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.With().Str("component", "sync-engine").Logger(),
		claims: make(map[uuid.UUID]context.CancelFunc),
	}
}

// SubmitConfig describes a job to enqueue.
type SubmitConfig struct {
	OrganizationID uuid.UUID
	ConnectionID   uuid.UUID
	Type           syncjob.JobType
	ResourceTypes  []string
	Filters        syncjob.Filters
	BatchSize      int
	MaxRetries     int
}

// Submit validates and persists a new pending job, returning its id. The job
// runs on the next scheduler scan.
func (e *Engine) Submit(ctx context.Context, cfg SubmitConfig) (uuid.UUID, error) {
	if cfg.OrganizationID == uuid.Nil || cfg.ConnectionID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: organization and connection ids are required", ErrInvalidConfig)
	}
	if len(cfg.ResourceTypes) == 0 {
		return uuid.Nil, fmt.Errorf("%w: at least one resource type is required", ErrInvalidConfig)
	}
	if cfg.Type == "" {
		cfg.Type = syncjob.TypeFullSync
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = syncjob.DefaultMaxRetries
	}

	job := &syncjob.Job{
		OrganizationID: cfg.OrganizationID,
		ConnectionID:   cfg.ConnectionID,
		Type:           cfg.Type,
		ResourceTypes:  cfg.ResourceTypes,
		Filters:        cfg.Filters,
		BatchSize:      cfg.BatchSize,
		Status:         syncjob.StatusPending,
		MaxRetries:     cfg.MaxRetries,
	}
	if err := e.deps.Jobs.Create(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("create sync job: %w", err)
	}
	e.log.Info().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Strs("resource_types", job.ResourceTypes).
		Msg("Sync job submitted")
	return job.ID, nil
}

// Start launches the scheduler loop. Safe to call more than once.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	e.stop = cancel
	e.mu.Unlock()

	e.deps.Perf.Start(loopCtx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.ScanInterval)
		defer ticker.Stop()
		e.scan(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				e.scan(loopCtx)
			}
		}
	}()

	e.log.Info().
		Dur("scan_interval", e.cfg.ScanInterval).
		Int("max_concurrent_jobs", e.cfg.MaxConcurrentJobs).
		Msg("Sync engine started")
}

// Stop halts the scheduler loop and waits for in-flight jobs to run to
// completion. Only Cancel interrupts a running job.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.stop
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.deps.Perf.Stop()
	e.log.Info().Msg("Sync engine stopped")
}

// TriggerScan runs one claim pass immediately instead of waiting for the
// next tick. Returns ErrNotRunning when the engine is stopped.
func (e *Engine) TriggerScan(ctx context.Context) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return ErrNotRunning
	}
	e.scan(ctx)
	return nil
}

// scan claims due jobs up to the concurrency limit, highest priority first.
func (e *Engine) scan(ctx context.Context) {
	e.mu.Lock()
	free := e.cfg.MaxConcurrentJobs - len(e.claims)
	e.mu.Unlock()
	if free <= 0 {
		return
	}

	due, err := e.deps.Jobs.ListDue(ctx, time.Now().UTC(), listDueLimit)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to list due jobs")
		return
	}
	sort.SliceStable(due, func(i, k int) bool {
		pi, pk := due[i].Priority(), due[k].Priority()
		if pi != pk {
			return pi > pk
		}
		return due[i].CreatedAt.Before(due[k].CreatedAt)
	})

	for _, job := range due {
		if free <= 0 {
			return
		}
		if e.claim(ctx, job) {
			free--
		}
	}
}

// claim transitions a job to running via compare-and-swap and launches its
// executor. Returns false when the worker budget is full, another scheduler
// won the race, or the job is already held locally.
func (e *Engine) claim(ctx context.Context, job *syncjob.Job) bool {
	// Jobs run on a context independent of the scheduler loop so a graceful
	// shutdown drains in-flight work instead of failing it. Cancel still
	// reaches the job through the claims map.
	jobCtx, cancel := context.WithCancel(context.Background())

	// The slot is reserved before the store round trip; overlapping scans
	// each see their own free budget, so the bound is enforced here.
	e.mu.Lock()
	if _, held := e.claims[job.ID]; held || len(e.claims) >= e.cfg.MaxConcurrentJobs {
		e.mu.Unlock()
		cancel()
		return false
	}
	e.claims[job.ID] = cancel
	e.mu.Unlock()

	if err := e.deps.Jobs.UpdateStatusIf(ctx, job.ID, job.Status, syncjob.StatusRunning); err != nil {
		cancel()
		e.mu.Lock()
		delete(e.claims, job.ID)
		e.mu.Unlock()
		if err != syncjob.ErrStatusConflict && err != syncjob.ErrNotFound {
			e.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to claim job")
		}
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.claims, job.ID)
			e.mu.Unlock()
		}()
		e.execute(jobCtx, job.ID)
	}()
	return true
}

// Cancel stops a pending or running job. Pending jobs are cancelled in the
// store; running jobs additionally get their context cancelled and finish
// cooperatively. Returns false when the job is already terminal.
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := e.deps.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}

	switch job.Status {
	case syncjob.StatusPending:
		if err := e.deps.Jobs.UpdateStatusIf(ctx, jobID, syncjob.StatusPending, syncjob.StatusCancelled); err != nil {
			if err == syncjob.ErrStatusConflict {
				return false, nil
			}
			return false, err
		}
		return true, nil
	case syncjob.StatusRunning:
		if err := e.deps.Jobs.UpdateStatusIf(ctx, jobID, syncjob.StatusRunning, syncjob.StatusCancelled); err != nil {
			if err == syncjob.ErrStatusConflict {
				return false, nil
			}
			return false, err
		}
		e.mu.Lock()
		cancel, held := e.claims[jobID]
		e.mu.Unlock()
		if held {
			cancel()
		}
		return true, nil
	case syncjob.StatusFailed:
		if job.Terminal() {
			return false, nil
		}
		// A failed job waiting on its backoff is still schedulable work.
		if err := e.deps.Jobs.UpdateStatusIf(ctx, jobID, syncjob.StatusFailed, syncjob.StatusCancelled); err != nil {
			if err == syncjob.ErrStatusConflict {
				return false, nil
			}
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// StatusInfo is a snapshot of the scheduler.
type StatusInfo struct {
	IsProcessing      bool        `json:"is_processing"`
	ActiveJobIDs      []uuid.UUID `json:"active_job_ids"`
	MaxConcurrentJobs int         `json:"max_concurrent_jobs"`
}

// Status reports the currently held jobs.
func (e *Engine) Status() StatusInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(e.claims))
	for id := range e.claims {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i].String() < ids[k].String() })
	return StatusInfo{
		IsProcessing:      len(ids) > 0,
		ActiveJobIDs:      ids,
		MaxConcurrentJobs: e.cfg.MaxConcurrentJobs,
	}
}

// GetJobStatus returns the persisted state of one job.
func (e *Engine) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*syncjob.Job, error) {
	return e.deps.Jobs.GetByID(ctx, jobID)
}

// GetOrganizationJobs lists an organization's jobs, newest first.
func (e *Engine) GetOrganizationJobs(ctx context.Context, orgID uuid.UUID) ([]*syncjob.Job, error) {
	return e.deps.Jobs.ListByOrganization(ctx, orgID)
}

// Resolver exposes the conflict resolver for the HTTP layer.
func (e *Engine) Resolver() *conflict.Resolver {
	return e.deps.Resolver
}

// PerfStats returns batch queue and cache statistics.
func (e *Engine) PerfStats() perf.Stats {
	return e.deps.Perf.Stats()
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ehrsync/internal/domain/conflict"
	"github.com/ehr/ehrsync/internal/domain/connection"
	"github.com/ehr/ehrsync/internal/domain/resource"
	"github.com/ehr/ehrsync/internal/domain/syncjob"
	"github.com/ehr/ehrsync/internal/platform/notification"
	"github.com/ehr/ehrsync/internal/platform/perf"
	"github.com/ehr/ehrsync/internal/platform/telemetry"
)

// execute drives one claimed job to a terminal or retryable state.
func (e *Engine) execute(ctx context.Context, jobID uuid.UUID) {
	job, err := e.deps.Jobs.GetByID(ctx, jobID)
	if err != nil {
		e.log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to load claimed job")
		return
	}

	telemetry.JobsStarted.WithLabelValues(string(job.Type)).Inc()
	telemetry.ActiveJobs.Inc()
	defer telemetry.ActiveJobs.Dec()

	now := time.Now().UTC()
	job.Status = syncjob.StatusRunning
	job.StartedAt = &now
	job.CompletedAt = nil
	job.NextRetryAt = nil
	job.TotalResources = 0
	job.ProcessedResources = 0
	job.SuccessfulResources = 0
	job.FailedResources = 0
	job.Errors = nil
	job.Result = nil
	if err := e.deps.Jobs.Update(ctx, job); err != nil {
		e.log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to mark job running")
		return
	}

	e.log.Info().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Int("retry_count", job.RetryCount).
		Msg("Executing sync job")

	e.finish(job, e.run(ctx, job))
}

// run resolves the connection and syncs each requested resource type. Only
// connection-level and permanent errors propagate; per-resource failures are
// accumulated on the job.
func (e *Engine) run(ctx context.Context, job *syncjob.Job) error {
	conn, err := e.deps.Connections.GetByID(ctx, job.ConnectionID)
	if errors.Is(err, connection.ErrNotFound) {
		return Permanent(fmt.Errorf("%w: %s", ErrConnectionNotFound, job.ConnectionID))
	}
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}
	if !conn.Active {
		return Permanent(fmt.Errorf("%w: %s", ErrConnectionInactive, conn.ID))
	}

	r := &runner{e: e, job: job, conn: conn}
	for _, resourceType := range job.ResourceTypes {
		// Cancellation is honored between resource types so a partially
		// synced type is never silently abandoned mid-batch.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.syncResourceType(ctx, resourceType); err != nil {
			return err
		}
	}
	return nil
}

// finish records the job outcome and schedules a retry when warranted. The
// run context may already be cancelled, so persistence uses a fresh one.
func (e *Engine) finish(job *syncjob.Job, runErr error) {
	ctx := context.Background()
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Result = &syncjob.Result{
		Total:      job.TotalResources,
		Successful: job.SuccessfulResources,
		Failed:     job.FailedResources,
	}

	if stored, err := e.deps.Jobs.GetByID(ctx, job.ID); err == nil && stored.Status == syncjob.StatusCancelled {
		job.Status = syncjob.StatusCancelled
		if err := e.deps.Jobs.Update(ctx, job); err != nil {
			e.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist cancelled job")
		}
		telemetry.JobsCompleted.WithLabelValues(string(job.Type), string(syncjob.StatusCancelled)).Inc()
		e.log.Info().Str("job_id", job.ID.String()).Msg("Sync job cancelled")
		return
	}

	if runErr == nil && job.FailedResources == 0 && len(job.Errors) == 0 {
		job.Status = syncjob.StatusCompleted
		job.NextRetryAt = nil
		if err := e.deps.Jobs.Update(ctx, job); err != nil {
			e.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist completed job")
		}
		telemetry.JobsCompleted.WithLabelValues(string(job.Type), string(syncjob.StatusCompleted)).Inc()
		e.log.Info().
			Str("job_id", job.ID.String()).
			Int("total", job.TotalResources).
			Int("successful", job.SuccessfulResources).
			Msg("Sync job completed")
		return
	}

	job.Status = syncjob.StatusFailed
	if runErr != nil {
		job.Errors = append(job.Errors, syncjob.JobError{Message: runErr.Error()})
	}

	if !IsPermanent(runErr) && job.RetryCount < job.MaxRetries {
		job.RetryCount++
		retryAt := now.Add(syncjob.RetryDelay(job.RetryCount))
		job.NextRetryAt = &retryAt
		telemetry.JobRetries.Inc()
		telemetry.JobsCompleted.WithLabelValues(string(job.Type), "retrying").Inc()
		e.log.Warn().
			Err(runErr).
			Str("job_id", job.ID.String()).
			Int("retry_count", job.RetryCount).
			Time("next_retry_at", retryAt).
			Msg("Sync job failed, retry scheduled")
	} else {
		job.NextRetryAt = nil
		telemetry.JobsCompleted.WithLabelValues(string(job.Type), string(syncjob.StatusFailed)).Inc()
		e.log.Error().
			Err(runErr).
			Str("job_id", job.ID.String()).
			Int("retry_count", job.RetryCount).
			Int("failed_resources", job.FailedResources).
			Msg("Sync job failed permanently")
		e.deps.Notifier.Notify(ctx, notification.Event{
			Type:           notification.EventJobFailed,
			OrganizationID: job.OrganizationID,
			Message:        fmt.Sprintf("sync job %s failed after %d retries", job.ID, job.RetryCount),
			Details: map[string]interface{}{
				"job_id":           job.ID.String(),
				"job_type":         string(job.Type),
				"failed_resources": job.FailedResources,
				"error":            errorMessage(runErr),
			},
		})
	}

	if err := e.deps.Jobs.Update(ctx, job); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist failed job")
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// runner carries the per-execution state of one job. Counter mutations are
// serialized because batches run concurrently.
type runner struct {
	e    *Engine
	job  *syncjob.Job
	conn *connection.Connection
	mu   sync.Mutex
}

func (r *runner) syncResourceType(ctx context.Context, resourceType string) error {
	if len(r.job.Filters.ResourceIDs) > 0 {
		return r.processIDs(ctx, resourceType, r.job.Filters.ResourceIDs)
	}

	if r.job.Type == syncjob.TypeIncrementalSync {
		lastSync, err := r.e.deps.Resources.LastSuccessfulSync(ctx, r.job.OrganizationID, resourceType)
		if err != nil {
			r.recordTypeError(resourceType, fmt.Errorf("determine last sync: %w", err))
			return nil
		}
		ids, err := r.e.deps.Perf.ResourcesForDeltaSync(ctx, r.e.deps.Resources, r.job.OrganizationID, resourceType, lastSync)
		if err != nil {
			r.recordTypeError(resourceType, fmt.Errorf("select delta resources: %w", err))
			return nil
		}
		return r.processIDs(ctx, resourceType, ids)
	}

	payloads, err := r.fetch(ctx, resourceType, r.fetchFilters(nil))
	if err != nil {
		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		r.recordTypeError(resourceType, err)
		return nil
	}
	return r.processPayloads(ctx, resourceType, payloads)
}

// processIDs syncs a known set of external ids, fetching cache misses in
// batches.
func (r *runner) processIDs(ctx context.Context, resourceType string, ids []string) error {
	r.addTotal(ctx, len(ids))
	if len(ids) == 0 {
		return nil
	}

	return r.e.deps.Perf.BatchProcess(ctx, ids, func(ctx context.Context, batch []string) error {
		var payloads []resource.Payload
		var missing []string
		for _, id := range batch {
			if p, ok := r.e.deps.Perf.Cache.Get(r.job.OrganizationID, resourceType, id); ok {
				telemetry.CacheHits.WithLabelValues("hit").Inc()
				payloads = append(payloads, p)
			} else {
				telemetry.CacheHits.WithLabelValues("miss").Inc()
				missing = append(missing, id)
			}
		}

		if len(missing) > 0 {
			fetched, err := r.fetch(ctx, resourceType, r.fetchFilters(missing))
			if err != nil {
				if IsPermanent(err) || ctx.Err() != nil {
					return err
				}
				for _, id := range missing {
					r.recordFailure(resourceType, id, err.Error())
				}
			} else {
				returned := make(map[string]bool, len(fetched))
				for _, p := range fetched {
					returned[p.FHIRID()] = true
					r.e.deps.Perf.Cache.Put(r.job.OrganizationID, resourceType, p.FHIRID(), p)
					payloads = append(payloads, p)
				}
				for _, id := range missing {
					if !returned[id] {
						r.recordFailure(resourceType, id, "resource not returned by source")
					}
				}
			}
		}

		for _, p := range payloads {
			r.reconcile(ctx, resourceType, p)
		}
		r.progress(ctx, len(batch))
		return nil
	}, perf.BatchOptions{BatchSize: r.job.BatchSize})
}

// processPayloads reconciles already-fetched payloads in concurrent batches.
func (r *runner) processPayloads(ctx context.Context, resourceType string, payloads []resource.Payload) error {
	r.addTotal(ctx, len(payloads))
	if len(payloads) == 0 {
		return nil
	}

	byID := make(map[string]resource.Payload, len(payloads))
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id := p.FHIRID()
		if id == "" {
			r.recordFailure(resourceType, "", "resource payload is missing an id")
			r.progress(ctx, 1)
			continue
		}
		// Duplicate ids in one page keep the last occurrence.
		if _, seen := byID[id]; !seen {
			ids = append(ids, id)
		} else {
			r.progress(ctx, 1)
		}
		byID[id] = p
	}

	return r.e.deps.Perf.BatchProcess(ctx, ids, func(ctx context.Context, batch []string) error {
		for _, id := range batch {
			r.reconcile(ctx, resourceType, byID[id])
		}
		r.progress(ctx, len(batch))
		return nil
	}, perf.BatchOptions{BatchSize: r.job.BatchSize})
}

// reconcile folds one remote payload into the canonical store: new resources
// are created, unchanged ones refreshed, and divergent ones routed through
// conflict detection.
func (r *runner) reconcile(ctx context.Context, resourceType string, p resource.Payload) {
	fhirID := p.FHIRID()
	if fhirID == "" {
		r.recordFailure(resourceType, "", "resource payload is missing an id")
		return
	}

	now := time.Now().UTC()
	local, err := r.e.deps.Resources.FindByExternalID(ctx, r.conn.ID, fhirID, resourceType)
	if errors.Is(err, resource.ErrNotFound) {
		raw, encErr := resource.EncodePayload(p)
		if encErr != nil {
			r.recordFailure(resourceType, fhirID, fmt.Sprintf("encode payload: %v", encErr))
			return
		}
		cr := &resource.CanonicalResource{
			OrganizationID:  r.job.OrganizationID,
			ConnectionID:    r.conn.ID,
			FHIRID:          fhirID,
			ResourceType:    resourceType,
			ResourceVersion: p.Version(),
			Data:            raw,
			Extracted:       resource.ExtractSummary(p),
			SyncStatus:      resource.StatusSynced,
			LastSyncAt:      now,
		}
		if entityType := resource.LocalEntityType(resourceType); entityType != "" {
			cr.LocalEntityType = &entityType
		}
		if err := r.e.deps.Resources.Create(ctx, cr); err != nil {
			r.recordFailure(resourceType, fhirID, fmt.Sprintf("create resource: %v", err))
			return
		}
		r.recordSuccess(resourceType)
		return
	}
	if err != nil {
		r.recordFailure(resourceType, fhirID, fmt.Sprintf("lookup resource: %v", err))
		return
	}

	detected, err := r.e.deps.Resolver.Detect(local, p)
	if err != nil {
		r.recordFailure(resourceType, fhirID, fmt.Sprintf("detect conflicts: %v", err))
		return
	}
	if detected == nil {
		local.ResourceVersion = p.Version()
		local.SyncStatus = resource.StatusSynced
		local.LastSyncAt = now
		if err := r.e.deps.Resources.Update(ctx, local); err != nil {
			r.recordFailure(resourceType, fhirID, fmt.Sprintf("update resource: %v", err))
			return
		}
		r.recordSuccess(resourceType)
		return
	}

	telemetry.ConflictsDetected.WithLabelValues(string(detected.Severity)).Inc()
	if r.e.deps.Resolver.AutoResolveEligible(detected) {
		res, resolveErr := r.e.deps.Resolver.ResolveAndPersist(ctx, detected, "", nil, func(ctx context.Context, _ *conflict.ResourceConflict, res *conflict.Resolution) error {
			return r.e.persistResolution(ctx, local, res)
		})
		if resolveErr == nil {
			telemetry.ConflictsResolved.WithLabelValues(string(res.Strategy), res.ResolvedBy).Inc()
			r.recordSuccess(resourceType)
			return
		}
		r.e.log.Warn().
			Err(resolveErr).
			Str("fhir_id", fhirID).
			Str("resource_type", resourceType).
			Msg("Auto-resolution failed, conflict left pending")
	}

	// Pending conflicts freeze the canonical copy until resolved. The
	// resource counts as processed but neither successful nor failed.
	if err := r.e.deps.Resources.SetSyncStatus(ctx, local.ID, resource.StatusConflict); err != nil {
		r.recordFailure(resourceType, fhirID, fmt.Sprintf("mark conflict: %v", err))
		return
	}
	r.recordConflict(resourceType)
	r.e.deps.Notifier.Notify(ctx, notification.Event{
		Type:           notification.EventConflictDetected,
		OrganizationID: r.job.OrganizationID,
		ResourceType:   resourceType,
		ResourceID:     fhirID,
		Message:        fmt.Sprintf("conflict detected on %s/%s with severity %s", resourceType, fhirID, detected.Severity),
		Details: map[string]interface{}{
			"conflict_id": detected.ID.String(),
			"severity":    string(detected.Severity),
			"fields":      len(detected.Entries),
		},
	})
}

// persistResolution stores a resolved payload back onto the canonical copy.
func (e *Engine) persistResolution(ctx context.Context, local *resource.CanonicalResource, res *conflict.Resolution) error {
	raw, err := resource.EncodePayload(res.Resolved)
	if err != nil {
		return fmt.Errorf("encode resolved payload: %w", err)
	}
	local.Data = raw
	local.Extracted = resource.ExtractSummary(res.Resolved)
	local.ResourceVersion = res.Resolved.Version()
	local.SyncStatus = resource.StatusSynced
	local.LastSyncAt = time.Now().UTC()
	if err := e.deps.Resources.Update(ctx, local); err != nil {
		return fmt.Errorf("persist resolution: %w", err)
	}
	return nil
}

// ResolveConflict resolves a pending conflict by id and persists the merged
// payload onto the canonical resource.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID uuid.UUID, strategy conflict.Strategy, overrides map[string]interface{}) (*conflict.Resolution, error) {
	c, err := e.deps.Resolver.Get(conflictID)
	if err != nil {
		return nil, err
	}
	res, err := e.deps.Resolver.ResolveAndPersist(ctx, c, strategy, overrides, func(ctx context.Context, c *conflict.ResourceConflict, res *conflict.Resolution) error {
		local, err := e.deps.Resources.GetByID(ctx, c.ResourceID)
		if err != nil {
			return fmt.Errorf("load canonical resource: %w", err)
		}
		return e.persistResolution(ctx, local, res)
	})
	if err != nil {
		return nil, err
	}
	telemetry.ConflictsResolved.WithLabelValues(string(res.Strategy), res.ResolvedBy).Inc()
	return res, nil
}

// AutoResolvePendingConflicts resolves every eligible pending conflict with
// the configured default strategy and persists each merged payload. Conflicts
// whose resources cannot be loaded or updated stay pending.
func (e *Engine) AutoResolvePendingConflicts(ctx context.Context) []conflict.Resolution {
	resolved := e.deps.Resolver.AutoResolvePending(ctx, func(ctx context.Context, c *conflict.ResourceConflict, res *conflict.Resolution) error {
		local, err := e.deps.Resources.GetByID(ctx, c.ResourceID)
		if err != nil {
			return fmt.Errorf("load canonical resource: %w", err)
		}
		return e.persistResolution(ctx, local, res)
	})
	for _, res := range resolved {
		telemetry.ConflictsResolved.WithLabelValues(string(res.Strategy), res.ResolvedBy).Inc()
	}
	return resolved
}

func (r *runner) fetch(ctx context.Context, resourceType string, filters FetchFilters) ([]resource.Payload, error) {
	var payloads []resource.Payload
	err := r.e.deps.Perf.Limiter.WithRateLimit(ctx, perf.LimiterAPI, func() error {
		var ferr error
		payloads, ferr = r.e.deps.Fetcher.FetchResources(ctx, r.conn, resourceType, filters)
		return ferr
	})
	return payloads, err
}

func (r *runner) fetchFilters(resourceIDs []string) FetchFilters {
	return FetchFilters{
		DateFrom:    r.job.Filters.DateFrom,
		DateTo:      r.job.Filters.DateTo,
		PatientIDs:  r.job.Filters.PatientIDs,
		ResourceIDs: resourceIDs,
	}
}

func (r *runner) addTotal(ctx context.Context, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.TotalResources += n
	if err := r.e.deps.Jobs.UpdateProgress(ctx, r.job); err != nil {
		r.e.log.Error().Err(err).Str("job_id", r.job.ID.String()).Msg("Failed to update job progress")
	}
}

func (r *runner) progress(ctx context.Context, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.ProcessedResources += n
	if err := r.e.deps.Jobs.UpdateProgress(ctx, r.job); err != nil {
		r.e.log.Error().Err(err).Str("job_id", r.job.ID.String()).Msg("Failed to update job progress")
	}
}

func (r *runner) recordSuccess(resourceType string) {
	r.mu.Lock()
	r.job.SuccessfulResources++
	r.mu.Unlock()
	telemetry.ResourcesProcessed.WithLabelValues(resourceType, "success").Inc()
}

func (r *runner) recordConflict(resourceType string) {
	telemetry.ResourcesProcessed.WithLabelValues(resourceType, "conflict").Inc()
}

func (r *runner) recordFailure(resourceType, resourceID, message string) {
	r.mu.Lock()
	r.job.FailedResources++
	r.job.Errors = append(r.job.Errors, syncjob.JobError{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Message:      message,
	})
	r.mu.Unlock()
	telemetry.ResourcesProcessed.WithLabelValues(resourceType, "failure").Inc()
}

// recordTypeError notes that an entire resource type could not be synced.
func (r *runner) recordTypeError(resourceType string, err error) {
	r.mu.Lock()
	r.job.FailedResources++
	r.job.Errors = append(r.job.Errors, syncjob.JobError{
		ResourceType: resourceType,
		Message:      err.Error(),
	})
	r.mu.Unlock()
	telemetry.ResourcesProcessed.WithLabelValues(resourceType, "failure").Inc()
	r.e.log.Warn().Err(err).Str("resource_type", resourceType).Msg("Resource type sync failed")
}

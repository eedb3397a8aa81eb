package perf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func testQueueConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 5
	cfg.ConcurrentBatches = 2
	cfg.RateLimitEnabled = false
	return cfg
}

func waitForStatus(t *testing.T, q *Queue, id uuid.UUID, statuses ...string) *BatchJob {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			job, _ := q.JobStatus(id)
			t.Fatalf("timed out waiting for %v, job: %+v", statuses, job)
		case <-time.After(5 * time.Millisecond):
		}
		job, err := q.JobStatus(id)
		if err != nil {
			t.Fatalf("JobStatus: %v", err)
		}
		for _, s := range statuses {
			if job.Status == s {
				return job
			}
		}
	}
}

func TestQueueSubmitDefaultsPriority(t *testing.T) {
	q := NewQueue(testQueueConfig(), nil, zerolog.Nop(), nil)
	org := uuid.New()

	patientJob := q.Submit(BatchSync, org, idRange(3), "Patient", 0)
	unknownJob := q.Submit(BatchSync, org, idRange(3), "Basic", 0)
	explicitJob := q.Submit(BatchImport, org, idRange(3), "Patient", 42)

	p, _ := q.JobStatus(patientJob)
	if p.Priority != 10 {
		t.Fatalf("Patient priority: expected 10, got %d", p.Priority)
	}
	u, _ := q.JobStatus(unknownJob)
	if u.Priority != defaultJobPriority {
		t.Fatalf("unknown type priority: expected %d, got %d", defaultJobPriority, u.Priority)
	}
	e, _ := q.JobStatus(explicitJob)
	if e.Priority != 42 {
		t.Fatalf("explicit priority: expected 42, got %d", e.Priority)
	}
}

func TestQueueExecutesJob(t *testing.T) {
	var mu sync.Mutex
	processed := map[string]bool{}

	q := NewQueue(testQueueConfig(), nil, zerolog.Nop(), func(_ context.Context, _ *BatchJob, batch []string) error {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range batch {
			processed[id] = true
		}
		return nil
	})
	q.Start(context.Background(), 10*time.Millisecond)
	defer q.Stop()

	id := q.Submit(BatchSync, uuid.New(), idRange(12), "Patient", 0)
	job := waitForStatus(t, q, id, BatchCompleted, BatchFailed)

	if job.Status != BatchCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", job.Status, job.Errors)
	}
	if job.ProcessedResources != 12 || job.FailedResources != 0 {
		t.Fatalf("unexpected counters: %+v", job)
	}
	if job.Progress != 100 {
		t.Fatalf("expected 100%% progress, got %v", job.Progress)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatal("expected start and completion timestamps")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 12 {
		t.Fatalf("expected 12 resources processed, got %d", len(processed))
	}
}

func TestQueueRecordsBatchFailures(t *testing.T) {
	fail := errors.New("vendor 500")
	q := NewQueue(testQueueConfig(), nil, zerolog.Nop(), func(_ context.Context, _ *BatchJob, batch []string) error {
		if batch[0] == "res-005" {
			return fail
		}
		return nil
	})
	q.Start(context.Background(), 10*time.Millisecond)
	defer q.Stop()

	id := q.Submit(BatchSync, uuid.New(), idRange(15), "Patient", 0)
	job := waitForStatus(t, q, id, BatchCompleted, BatchFailed)

	if job.Status != BatchFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ProcessedResources != 10 || job.FailedResources != 5 {
		t.Fatalf("unexpected counters: processed=%d failed=%d", job.ProcessedResources, job.FailedResources)
	}
	if len(job.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %v", job.Errors)
	}
}

func TestQueueCancelPendingJob(t *testing.T) {
	q := NewQueue(testQueueConfig(), nil, zerolog.Nop(), nil)
	id := q.Submit(BatchExport, uuid.New(), idRange(5), "Patient", 0)

	if err := q.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	job, _ := q.JobStatus(id)
	if job.Status != BatchCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}

	if err := q.Cancel(uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestQueueOrganizationJobsNewestFirst(t *testing.T) {
	q := NewQueue(testQueueConfig(), nil, zerolog.Nop(), nil)
	org := uuid.New()

	first := q.Submit(BatchSync, org, idRange(1), "Patient", 0)
	q.mu.Lock()
	q.jobs[first].CreatedAt = q.jobs[first].CreatedAt.Add(-time.Minute)
	q.mu.Unlock()
	second := q.Submit(BatchSync, org, idRange(1), "Patient", 0)
	q.Submit(BatchSync, uuid.New(), idRange(1), "Patient", 0)

	jobs := q.OrganizationJobs(org)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs for org, got %d", len(jobs))
	}
	if jobs[0].ID != second || jobs[1].ID != first {
		t.Fatalf("expected newest first, got %v then %v", jobs[0].ID, jobs[1].ID)
	}
}

func TestQueueStats(t *testing.T) {
	q := NewQueue(testQueueConfig(), nil, zerolog.Nop(), func(_ context.Context, _ *BatchJob, _ []string) error {
		return nil
	})
	q.Start(context.Background(), 10*time.Millisecond)
	defer q.Stop()

	done := q.Submit(BatchSync, uuid.New(), idRange(10), "Patient", 0)
	waitForStatus(t, q, done, BatchCompleted)

	stats := q.Stats()
	if stats.CompletedJobs != 1 {
		t.Fatalf("expected 1 completed job, got %+v", stats)
	}
	if stats.AvgJobDuration < 0 {
		t.Fatalf("negative average duration: %+v", stats)
	}
	if stats.TotalResourcesProcessed < 10 {
		t.Fatalf("expected at least 10 processed, got %+v", stats)
	}
}

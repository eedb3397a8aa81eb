package syncjob

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPriority(t *testing.T) {
	cases := []struct {
		jobType    JobType
		retryCount int
		want       int
	}{
		{TypeIncrementalSync, 0, 100},
		{TypePatientSync, 0, 80},
		{TypeEncounterSync, 0, 70},
		{TypeFullSync, 0, 50},
		{TypeIncrementalSync, 2, 80},
		{TypeFullSync, 3, 20},
		{JobType("unknown"), 0, 50},
		{TypeFullSync, 10, 1}, // floor
	}
	for _, tc := range cases {
		j := &Job{Type: tc.jobType, RetryCount: tc.retryCount}
		if got := j.Priority(); got != tc.want {
			t.Errorf("Priority(%s, retries=%d) = %d, want %d", tc.jobType, tc.retryCount, got, tc.want)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	want := []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute, 60 * time.Minute, 60 * time.Minute}
	for i, expected := range want {
		if got := RetryDelay(i + 1); got != expected {
			t.Errorf("RetryDelay(%d) = %s, want %s", i+1, got, expected)
		}
	}
}

func TestDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name string
		job  Job
		want bool
	}{
		{"pending", Job{Status: StatusPending}, true},
		{"running", Job{Status: StatusRunning}, false},
		{"completed", Job{Status: StatusCompleted}, false},
		{"cancelled", Job{Status: StatusCancelled}, false},
		{"failed, backoff elapsed", Job{Status: StatusFailed, RetryCount: 1, MaxRetries: 3, NextRetryAt: &past}, true},
		{"failed, backoff pending", Job{Status: StatusFailed, RetryCount: 1, MaxRetries: 3, NextRetryAt: &future}, false},
		{"failed permanently, no retry scheduled", Job{Status: StatusFailed, RetryCount: 3, MaxRetries: 3}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.Due(now); got != tc.want {
				t.Errorf("Due() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	if !(&Job{Status: StatusCompleted}).Terminal() {
		t.Error("completed should be terminal")
	}
	if !(&Job{Status: StatusCancelled}).Terminal() {
		t.Error("cancelled should be terminal")
	}
	retryAt := time.Now().Add(5 * time.Minute)
	if (&Job{Status: StatusFailed, RetryCount: 1, MaxRetries: 3, NextRetryAt: &retryAt}).Terminal() {
		t.Error("failed with a retry scheduled should not be terminal")
	}
	if !(&Job{Status: StatusFailed, RetryCount: 3, MaxRetries: 3}).Terminal() {
		t.Error("failed with no retry scheduled should be terminal")
	}
	if (&Job{Status: StatusRunning}).Terminal() {
		t.Error("running should not be terminal")
	}
}

func TestInMemoryRepo_UpdateStatusIf(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepo()

	j := &Job{
		OrganizationID: uuid.New(),
		ConnectionID:   uuid.New(),
		Type:           TypeFullSync,
		ResourceTypes:  []string{"Patient"},
	}
	if err := repo.Create(ctx, j); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpdateStatusIf(ctx, j.ID, StatusPending, StatusRunning); err != nil {
		t.Fatalf("first claim should succeed: %v", err)
	}
	// Simulates a second scheduler losing the race for the same job.
	if err := repo.UpdateStatusIf(ctx, j.ID, StatusPending, StatusRunning); err != ErrStatusConflict {
		t.Fatalf("second claim should fail with ErrStatusConflict, got %v", err)
	}
	if err := repo.UpdateStatusIf(ctx, uuid.New(), StatusPending, StatusRunning); err != ErrNotFound {
		t.Fatalf("missing job should fail with ErrNotFound, got %v", err)
	}
}

func TestInMemoryRepo_ListDue(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepo()
	now := time.Now()

	pending := &Job{OrganizationID: uuid.New(), ConnectionID: uuid.New(), Type: TypeFullSync, ResourceTypes: []string{"Patient"}}
	if err := repo.Create(ctx, pending); err != nil {
		t.Fatal(err)
	}

	running := &Job{OrganizationID: uuid.New(), ConnectionID: uuid.New(), Type: TypeFullSync, ResourceTypes: []string{"Patient"}}
	if err := repo.Create(ctx, running); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateStatusIf(ctx, running.ID, StatusPending, StatusRunning); err != nil {
		t.Fatal(err)
	}

	future := now.Add(time.Hour)
	backedOff := &Job{OrganizationID: uuid.New(), ConnectionID: uuid.New(), Type: TypeFullSync, ResourceTypes: []string{"Patient"}}
	if err := repo.Create(ctx, backedOff); err != nil {
		t.Fatal(err)
	}
	backedOff.Status = StatusFailed
	backedOff.RetryCount = 1
	backedOff.NextRetryAt = &future
	if err := repo.Update(ctx, backedOff); err != nil {
		t.Fatal(err)
	}

	due, err := repo.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != pending.ID {
		t.Fatalf("expected only the pending job to be due, got %d jobs", len(due))
	}
}

func TestInMemoryRepo_ProgressInvariant(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepo()

	j := &Job{OrganizationID: uuid.New(), ConnectionID: uuid.New(), Type: TypePatientSync, ResourceTypes: []string{"Patient"}}
	if err := repo.Create(ctx, j); err != nil {
		t.Fatal(err)
	}

	j.TotalResources = 10
	for processed := 1; processed <= 10; processed++ {
		j.ProcessedResources = processed
		if err := repo.UpdateProgress(ctx, j); err != nil {
			t.Fatal(err)
		}
		got, err := repo.GetByID(ctx, j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.ProcessedResources > got.TotalResources {
			t.Fatalf("invariant violated: processed %d > total %d", got.ProcessedResources, got.TotalResources)
		}
	}
}

package syncjob

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies what a sync job covers.
type JobType string

const (
	TypeFullSync        JobType = "full_sync"
	TypeIncrementalSync JobType = "incremental_sync"
	TypePatientSync     JobType = "patient_sync"
	TypeEncounterSync   JobType = "encounter_sync"
)

// Job statuses. Transitions are monotonic:
// pending -> running -> completed | failed | cancelled. A failed job with
// retry budget left is re-claimed through running, never directly.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// DefaultMaxRetries is the retry budget assigned to new jobs.
const DefaultMaxRetries = 3

// RetryDelays is the progressive backoff schedule; the last entry is reused
// when the retry count exceeds the schedule length.
var RetryDelays = []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute}

// Filters narrows the resources a job covers.
type Filters struct {
	DateFrom   string   `json:"date_from,omitempty"`
	DateTo     string   `json:"date_to,omitempty"`
	PatientIDs []string `json:"patient_ids,omitempty"`
	// ResourceIDs restricts the job to an explicit allow-list of external ids.
	ResourceIDs []string `json:"resource_ids,omitempty"`
}

// JobError records one failed resource inside a job.
type JobError struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	Message      string `json:"message"`
}

// Result summarizes a finished job.
type Result struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Job is one unit of synchronization work.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	ConnectionID   uuid.UUID  `json:"connection_id"`
	Type           JobType    `json:"job_type"`
	ResourceTypes  []string   `json:"resource_types"`
	Filters        Filters    `json:"filters"`
	BatchSize      int        `json:"batch_size,omitempty"`
	Status         Status     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`

	TotalResources      int `json:"total_resources"`
	ProcessedResources  int `json:"processed_resources"`
	SuccessfulResources int `json:"successful_resources"`
	FailedResources     int `json:"failed_resources"`

	Errors []JobError `json:"errors,omitempty"`
	Result *Result    `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// basePriority favors small, frequent syncs over bulk ones.
var basePriority = map[JobType]int{
	TypeIncrementalSync: 100,
	TypePatientSync:     80,
	TypeEncounterSync:   70,
	TypeFullSync:        50,
}

// Priority computes the job's scheduling priority. Each prior failure knocks
// the job down so fresh work is preferred over repeat offenders. The floor
// is 1.
func (j *Job) Priority() int {
	base, ok := basePriority[j.Type]
	if !ok {
		base = 50
	}
	p := base - 10*j.RetryCount
	if p < 1 {
		p = 1
	}
	return p
}

// Terminal reports whether the job can never run again. A failed job is
// terminal once its retry budget is exhausted, which the scheduler records
// by clearing NextRetryAt.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return j.NextRetryAt == nil
	default:
		return false
	}
}

// Due reports whether the job is eligible to be claimed at the given time:
// it is pending, or failed with a retry scheduled and its backoff elapsed.
func (j *Job) Due(now time.Time) bool {
	if j.Status == StatusPending {
		return true
	}
	if j.Status != StatusFailed || j.NextRetryAt == nil {
		return false
	}
	return !j.NextRetryAt.After(now)
}

// RetryDelay returns the backoff before retry attempt n (1-based).
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(RetryDelays) {
		return RetryDelays[len(RetryDelays)-1]
	}
	return RetryDelays[attempt-1]
}

package syncjob

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe, in-memory Repository. It backs tests and
// single-process deployments without a database.
type InMemoryRepo struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{jobs: make(map[uuid.UUID]*Job)}
}

func (s *InMemoryRepo) Create(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	cp := cloneJob(j)
	s.jobs[j.ID] = cp
	return nil
}

func (s *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *InMemoryRepo) Update(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	j.UpdatedAt = time.Now().UTC()
	s.jobs[j.ID] = cloneJob(j)
	return nil
}

func (s *InMemoryRepo) UpdateStatusIf(_ context.Context, id uuid.UUID, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != from {
		return ErrStatusConflict
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Due(now) {
			due = append(due, cloneJob(j))
		}
	}
	sort.Slice(due, func(i, k int) bool {
		return due[i].CreatedAt.Before(due[k].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryRepo) ListByOrganization(_ context.Context, orgID uuid.UUID) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Job
	for _, j := range s.jobs {
		if j.OrganizationID == orgID {
			result = append(result, cloneJob(j))
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return result, nil
}

func (s *InMemoryRepo) UpdateProgress(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[j.ID]
	if !ok {
		return ErrNotFound
	}
	stored.TotalResources = j.TotalResources
	stored.ProcessedResources = j.ProcessedResources
	stored.SuccessfulResources = j.SuccessfulResources
	stored.FailedResources = j.FailedResources
	stored.Errors = append([]JobError(nil), j.Errors...)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneJob(j *Job) *Job {
	cp := *j
	cp.ResourceTypes = append([]string(nil), j.ResourceTypes...)
	cp.Errors = append([]JobError(nil), j.Errors...)
	if j.NextRetryAt != nil {
		t := *j.NextRetryAt
		cp.NextRetryAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	return &cp
}

package resource

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe, in-memory Repository. It backs tests and
// single-process deployments without a database.
type InMemoryRepo struct {
	mu        sync.RWMutex
	resources map[uuid.UUID]*CanonicalResource
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{resources: make(map[uuid.UUID]*CanonicalResource)}
}

func (s *InMemoryRepo) Create(_ context.Context, r *CanonicalResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.SyncStatus == "" {
		r.SyncStatus = StatusSynced
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	cp := *r
	s.resources[r.ID] = &cp
	return nil
}

func (s *InMemoryRepo) Update(_ context.Context, r *CanonicalResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	cp := *r
	s.resources[r.ID] = &cp
	return nil
}

func (s *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*CanonicalResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *InMemoryRepo) FindByExternalID(_ context.Context, connectionID uuid.UUID, fhirID, resourceType string) (*CanonicalResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.resources {
		if r.ConnectionID == connectionID && r.FHIRID == fhirID && r.ResourceType == resourceType {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryRepo) ListExternalIDs(_ context.Context, orgID uuid.UUID, resourceType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, r := range s.resources {
		if r.OrganizationID == orgID && r.ResourceType == resourceType {
			ids = append(ids, r.FHIRID)
		}
	}
	return ids, nil
}

func (s *InMemoryRepo) ListModifiedSince(_ context.Context, orgID uuid.UUID, resourceType string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, r := range s.resources {
		if r.OrganizationID == orgID && r.ResourceType == resourceType && !r.UpdatedAt.Before(since) {
			ids = append(ids, r.FHIRID)
		}
	}
	return ids, nil
}

func (s *InMemoryRepo) ListByOrganization(_ context.Context, orgID uuid.UUID, resourceType string, limit int) ([]*CanonicalResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*CanonicalResource
	for _, r := range s.resources {
		if r.OrganizationID != orgID {
			continue
		}
		if resourceType != "" && r.ResourceType != resourceType {
			continue
		}
		cp := *r
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *InMemoryRepo) SetSyncStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return ErrNotFound
	}
	r.SyncStatus = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryRepo) LastSuccessfulSync(_ context.Context, orgID uuid.UUID, resourceType string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, r := range s.resources {
		if r.OrganizationID == orgID && r.ResourceType == resourceType && r.SyncStatus == StatusSynced {
			if r.LastSyncAt.After(last) {
				last = r.LastSyncAt
			}
		}
	}
	return last, nil
}

package connection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe, in-memory Repository.
type InMemoryRepo struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*Connection
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{connections: make(map[uuid.UUID]*Connection)}
}

func (s *InMemoryRepo) Create(_ context.Context, c *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	s.connections[c.ID] = &cp
	return nil
}

func (s *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryRepo) ListByOrganization(_ context.Context, orgID uuid.UUID) ([]*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Connection
	for _, c := range s.connections {
		if c.OrganizationID == orgID {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *InMemoryRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return ErrNotFound
	}
	c.Active = active
	c.UpdatedAt = time.Now().UTC()
	return nil
}

package connection

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a connection does not exist.
var ErrNotFound = errors.New("connection not found")

type Repository interface {
	Create(ctx context.Context, c *Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Connection, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

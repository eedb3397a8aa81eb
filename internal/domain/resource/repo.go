package resource

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a canonical resource does not exist.
var ErrNotFound = errors.New("resource not found")

type Repository interface {
	Create(ctx context.Context, r *CanonicalResource) error
	Update(ctx context.Context, r *CanonicalResource) error
	GetByID(ctx context.Context, id uuid.UUID) (*CanonicalResource, error)
	// FindByExternalID looks up the canonical copy by its identifying tuple.
	// Returns ErrNotFound when the external resource has not been seen yet.
	FindByExternalID(ctx context.Context, connectionID uuid.UUID, fhirID, resourceType string) (*CanonicalResource, error)
	// ListExternalIDs returns every known external resource id for the
	// organization and type.
	ListExternalIDs(ctx context.Context, orgID uuid.UUID, resourceType string) ([]string, error)
	// ListModifiedSince returns external ids of resources updated at or after
	// the given time.
	ListModifiedSince(ctx context.Context, orgID uuid.UUID, resourceType string, since time.Time) ([]string, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID, resourceType string, limit int) ([]*CanonicalResource, error)
	SetSyncStatus(ctx context.Context, id uuid.UUID, status string) error
	// LastSuccessfulSync returns the most recent LastSyncAt across the
	// organization's resources of the given type, or the zero time when none.
	LastSuccessfulSync(ctx context.Context, orgID uuid.UUID, resourceType string) (time.Time, error)
}

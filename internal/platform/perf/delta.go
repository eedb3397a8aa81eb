package perf

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResourceLister is the slice of the canonical-resource store the delta
// selector needs.
type ResourceLister interface {
	ListExternalIDs(ctx context.Context, orgID uuid.UUID, resourceType string) ([]string, error)
	ListModifiedSince(ctx context.Context, orgID uuid.UUID, resourceType string, since time.Time) ([]string, error)
}

// ResourcesForDeltaSync selects the working set of external resource ids to
// re-fetch and re-reconcile. With delta sync disabled or no prior sync time
// it returns every known id for the type; otherwise only ids of locally
// known resources modified at or after lastSync. Newly created remote
// resources are discovered by the full-sync path, not here.
func ResourcesForDeltaSync(ctx context.Context, store ResourceLister, deltaEnabled bool, orgID uuid.UUID, resourceType string, lastSync time.Time) ([]string, error) {
	if !deltaEnabled || lastSync.IsZero() {
		ids, err := store.ListExternalIDs(ctx, orgID, resourceType)
		if err != nil {
			return nil, fmt.Errorf("list %s resources: %w", resourceType, err)
		}
		return ids, nil
	}
	ids, err := store.ListModifiedSince(ctx, orgID, resourceType, lastSync)
	if err != nil {
		return nil, fmt.Errorf("list modified %s resources: %w", resourceType, err)
	}
	return ids, nil
}

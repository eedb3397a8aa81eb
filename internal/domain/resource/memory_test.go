package resource

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestInMemoryRepo_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepo()
	connID := uuid.New()
	orgID := uuid.New()

	res := &CanonicalResource{
		OrganizationID: orgID,
		ConnectionID:   connID,
		FHIRID:         "pat-1",
		ResourceType:   "Patient",
		Data:           json.RawMessage(`{"resourceType":"Patient","id":"pat-1"}`),
		LastSyncAt:     time.Now().UTC(),
	}
	if err := repo.Create(ctx, res); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ID == uuid.Nil {
		t.Fatal("expected ID to be assigned")
	}
	if res.SyncStatus != StatusSynced {
		t.Errorf("expected default status synced, got %s", res.SyncStatus)
	}

	found, err := repo.FindByExternalID(ctx, connID, "pat-1", "Patient")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if found.ID != res.ID {
		t.Errorf("expected ID %s, got %s", res.ID, found.ID)
	}

	if _, err := repo.FindByExternalID(ctx, connID, "pat-2", "Patient"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown resource, got %v", err)
	}
}

func TestInMemoryRepo_ListModifiedSince(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepo()
	orgID := uuid.New()
	connID := uuid.New()

	old := &CanonicalResource{
		OrganizationID: orgID, ConnectionID: connID,
		FHIRID: "pat-old", ResourceType: "Patient",
	}
	if err := repo.Create(ctx, old); err != nil {
		t.Fatal(err)
	}
	// Backdate the first resource past the cutoff.
	repo.mu.Lock()
	repo.resources[old.ID].UpdatedAt = time.Now().Add(-48 * time.Hour)
	repo.mu.Unlock()

	recent := &CanonicalResource{
		OrganizationID: orgID, ConnectionID: connID,
		FHIRID: "pat-new", ResourceType: "Patient",
	}
	if err := repo.Create(ctx, recent); err != nil {
		t.Fatal(err)
	}

	ids, err := repo.ListModifiedSince(ctx, orgID, "Patient", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListModifiedSince: %v", err)
	}
	if len(ids) != 1 || ids[0] != "pat-new" {
		t.Errorf("expected only pat-new, got %v", ids)
	}

	all, err := repo.ListExternalIDs(ctx, orgID, "Patient")
	if err != nil {
		t.Fatalf("ListExternalIDs: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 known ids, got %v", all)
	}
}

func TestInMemoryRepo_LastSuccessfulSync(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepo()
	orgID := uuid.New()

	last, err := repo.LastSuccessfulSync(ctx, orgID, "Patient")
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() {
		t.Errorf("expected zero time with no resources, got %s", last)
	}

	earlier := time.Now().Add(-2 * time.Hour).UTC()
	later := time.Now().Add(-1 * time.Hour).UTC()
	for i, at := range []time.Time{earlier, later} {
		res := &CanonicalResource{
			OrganizationID: orgID,
			ConnectionID:   uuid.New(),
			FHIRID:         "pat-" + string(rune('a'+i)),
			ResourceType:   "Patient",
			LastSyncAt:     at,
		}
		if err := repo.Create(ctx, res); err != nil {
			t.Fatal(err)
		}
	}

	last, err = repo.LastSuccessfulSync(ctx, orgID, "Patient")
	if err != nil {
		t.Fatal(err)
	}
	if !last.Equal(later) {
		t.Errorf("expected %s, got %s", later, last)
	}
}

func TestInMemoryRepo_SetSyncStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepo()

	res := &CanonicalResource{
		OrganizationID: uuid.New(), ConnectionID: uuid.New(),
		FHIRID: "pat-1", ResourceType: "Patient",
	}
	if err := repo.Create(ctx, res); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetSyncStatus(ctx, res.ID, StatusConflict); err != nil {
		t.Fatalf("SetSyncStatus: %v", err)
	}

	got, err := repo.GetByID(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != StatusConflict {
		t.Errorf("expected conflict status, got %s", got.SyncStatus)
	}

	if err := repo.SetSyncStatus(ctx, uuid.New(), StatusError); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

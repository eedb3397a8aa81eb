package perf

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeLister struct {
	all      []string
	modified []string
	err      error

	lastSince time.Time
}

func (f *fakeLister) ListExternalIDs(_ context.Context, _ uuid.UUID, _ string) ([]string, error) {
	return f.all, f.err
}

func (f *fakeLister) ListModifiedSince(_ context.Context, _ uuid.UUID, _ string, since time.Time) ([]string, error) {
	f.lastSince = since
	return f.modified, f.err
}

func TestResourcesForDeltaSync(t *testing.T) {
	ctx := context.Background()
	org := uuid.New()
	lister := &fakeLister{
		all:      []string{"p1", "p2", "p3"},
		modified: []string{"p2"},
	}
	lastSync := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	t.Run("delta disabled returns full set", func(t *testing.T) {
		ids, err := ResourcesForDeltaSync(ctx, lister, false, org, "Patient", lastSync)
		if err != nil {
			t.Fatalf("ResourcesForDeltaSync: %v", err)
		}
		if !reflect.DeepEqual(ids, lister.all) {
			t.Fatalf("expected full set, got %v", ids)
		}
	})

	t.Run("no prior sync returns full set", func(t *testing.T) {
		ids, err := ResourcesForDeltaSync(ctx, lister, true, org, "Patient", time.Time{})
		if err != nil {
			t.Fatalf("ResourcesForDeltaSync: %v", err)
		}
		if !reflect.DeepEqual(ids, lister.all) {
			t.Fatalf("expected full set, got %v", ids)
		}
	})

	t.Run("delta returns modified only", func(t *testing.T) {
		ids, err := ResourcesForDeltaSync(ctx, lister, true, org, "Patient", lastSync)
		if err != nil {
			t.Fatalf("ResourcesForDeltaSync: %v", err)
		}
		if !reflect.DeepEqual(ids, lister.modified) {
			t.Fatalf("expected modified set, got %v", ids)
		}
		if !lister.lastSince.Equal(lastSync) {
			t.Fatalf("expected since=%s, got %s", lastSync, lister.lastSince)
		}
	})

	t.Run("store error propagates", func(t *testing.T) {
		broken := &fakeLister{err: errors.New("db down")}
		if _, err := ResourcesForDeltaSync(ctx, broken, true, org, "Patient", lastSync); err == nil {
			t.Fatal("expected error")
		}
	})
}

package perf

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ehrsync/internal/domain/resource"
)

func testPayload(id string) resource.Payload {
	return resource.Payload{"resourceType": "Patient", "id": id}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(true, time.Hour)
	org := uuid.New()

	if _, ok := c.Get(org, "Patient", "p1"); ok {
		t.Fatal("empty cache should miss")
	}

	c.Put(org, "Patient", "p1", testPayload("p1"))
	got, ok := c.Get(org, "Patient", "p1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.FHIRID() != "p1" {
		t.Fatalf("wrong payload: %v", got)
	}

	hits, misses := c.HitStats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit / 1 miss, got %d/%d", hits, misses)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(true, time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }

	org := uuid.New()
	c.Put(org, "Patient", "p1", testPayload("p1"))

	c.now = func() time.Time { return base.Add(59 * time.Minute) }
	if _, ok := c.Get(org, "Patient", "p1"); !ok {
		t.Fatal("entry should still be live before TTL")
	}

	c.now = func() time.Time { return base.Add(61 * time.Minute) }
	if _, ok := c.Get(org, "Patient", "p1"); ok {
		t.Fatal("expired entry should be treated as absent")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry should be evicted on access, size=%d", c.Size())
	}
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(false, time.Hour)
	org := uuid.New()
	c.Put(org, "Patient", "p1", testPayload("p1"))
	if _, ok := c.Get(org, "Patient", "p1"); ok {
		t.Fatal("disabled cache should always miss")
	}
	if c.Size() != 0 {
		t.Fatalf("disabled cache should store nothing, size=%d", c.Size())
	}
}

func TestCacheClearFilters(t *testing.T) {
	c := NewCache(true, time.Hour)
	org1 := uuid.New()
	org2 := uuid.New()
	c.Put(org1, "Patient", "p1", testPayload("p1"))
	c.Put(org1, "Encounter", "e1", resource.Payload{"resourceType": "Encounter", "id": "e1"})
	c.Put(org2, "Patient", "p2", testPayload("p2"))

	if removed := c.Clear(org1, "Patient"); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := c.Get(org1, "Encounter", "e1"); !ok {
		t.Fatal("unrelated type should survive")
	}
	if _, ok := c.Get(org2, "Patient", "p2"); !ok {
		t.Fatal("other org should survive")
	}

	if removed := c.Clear(uuid.Nil, ""); removed != 2 {
		t.Fatalf("expected full clear of 2, got %d", removed)
	}
	if c.Size() != 0 {
		t.Fatalf("cache should be empty, size=%d", c.Size())
	}
}

func TestCacheSweep(t *testing.T) {
	c := NewCache(true, time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	org := uuid.New()
	c.Put(org, "Patient", "p1", testPayload("p1"))
	c.Put(org, "Patient", "p2", testPayload("p2"))

	c.now = func() time.Time { return base.Add(30 * time.Second) }
	c.Put(org, "Patient", "p3", testPayload("p3"))

	c.now = func() time.Time { return base.Add(70 * time.Second) }
	if removed := c.Sweep(); removed != 2 {
		t.Fatalf("expected 2 expired entries swept, got %d", removed)
	}
	if _, ok := c.Get(org, "Patient", "p3"); !ok {
		t.Fatal("younger entry should survive the sweep")
	}
}

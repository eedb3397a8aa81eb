package perf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func idRange(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("res-%03d", i)
	}
	return ids
}

func TestBatchProcessChunksEverything(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	var batchSizes []int

	err := BatchProcess(context.Background(), nil, idRange(25), func(_ context.Context, batch []string) error {
		mu.Lock()
		defer mu.Unlock()
		batchSizes = append(batchSizes, len(batch))
		for _, id := range batch {
			if seen[id] {
				t.Errorf("id %s processed twice", id)
			}
			seen[id] = true
		}
		return nil
	}, BatchOptions{BatchSize: 10, Concurrency: 2})
	if err != nil {
		t.Fatalf("BatchProcess: %v", err)
	}

	if len(seen) != 25 {
		t.Fatalf("expected 25 ids processed, got %d", len(seen))
	}
	if len(batchSizes) != 3 {
		t.Fatalf("expected 3 batches, got %v", batchSizes)
	}
	for _, size := range batchSizes {
		if size > 10 {
			t.Fatalf("batch exceeded size limit: %v", batchSizes)
		}
	}
}

func TestBatchProcessProgress(t *testing.T) {
	var mu sync.Mutex
	var updates []int

	err := BatchProcess(context.Background(), nil, idRange(30), func(_ context.Context, batch []string) error {
		return nil
	}, BatchOptions{
		BatchSize:   10,
		Concurrency: 1,
		OnProgress: func(processed, total int) {
			mu.Lock()
			defer mu.Unlock()
			if total != 30 {
				t.Errorf("expected total 30, got %d", total)
			}
			if processed > total {
				t.Errorf("processed %d exceeds total %d", processed, total)
			}
			updates = append(updates, processed)
		},
	})
	if err != nil {
		t.Fatalf("BatchProcess: %v", err)
	}

	if len(updates) != 3 || updates[len(updates)-1] != 30 {
		t.Fatalf("expected progress to reach 30 over 3 updates, got %v", updates)
	}
	for i := 1; i < len(updates); i++ {
		if updates[i] <= updates[i-1] {
			t.Fatalf("progress not monotonic: %v", updates)
		}
	}
}

func TestBatchProcessBoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32

	err := BatchProcess(context.Background(), nil, idRange(40), func(_ context.Context, batch []string) error {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		defer inFlight.Add(-1)
		return nil
	}, BatchOptions{BatchSize: 5, Concurrency: 2})
	if err != nil {
		t.Fatalf("BatchProcess: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("concurrency bound exceeded: peak %d", peak.Load())
	}
}

func TestBatchProcessPropagatesError(t *testing.T) {
	sentinel := errors.New("batch failed")
	err := BatchProcess(context.Background(), nil, idRange(20), func(_ context.Context, batch []string) error {
		if batch[0] == "res-010" {
			return sentinel
		}
		return nil
	}, BatchOptions{BatchSize: 10, Concurrency: 1})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestBatchProcessEmptyInput(t *testing.T) {
	called := false
	err := BatchProcess(context.Background(), nil, nil, func(_ context.Context, batch []string) error {
		called = true
		return nil
	}, BatchOptions{})
	if err != nil {
		t.Fatalf("BatchProcess: %v", err)
	}
	if called {
		t.Fatal("fn should not run for empty input")
	}
}

package perf

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BatchOptions tunes a BatchProcess run. Zero values fall back to the
// package defaults of 100 per batch and 3 batches in flight.
type BatchOptions struct {
	BatchSize   int
	Concurrency int
	// OnProgress is called after each completed batch with cumulative
	// processed count and the total.
	OnProgress func(processed, total int)
}

// BatchProcess splits ids into fixed-size chunks and runs fn over them with
// bounded concurrency. Each chunk acquires a rate-limit token when a
// limiter is supplied. The first chunk error cancels the remaining chunks
// and is returned; callers that want partial-failure tolerance record
// failures inside fn and return nil.
func BatchProcess(ctx context.Context, limiter *Limiter, ids []string, fn func(context.Context, []string) error, opts BatchOptions) error {
	if len(ids) == 0 {
		return nil
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	batches := chunk(ids, batchSize)
	total := len(ids)
	var processed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			run := func() error { return fn(ctx, batch) }
			var err error
			if limiter != nil {
				err = limiter.WithRateLimit(ctx, LimiterBatch, run)
			} else {
				err = run()
			}
			if err != nil {
				return err
			}
			done := processed.Add(int64(len(batch)))
			if opts.OnProgress != nil {
				opts.OnProgress(int(done), total)
			}
			return nil
		})
	}
	return g.Wait()
}

func chunk(ids []string, size int) [][]string {
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

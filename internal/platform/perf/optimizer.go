package perf

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stats is a point-in-time summary of the perf layer.
type Stats struct {
	QueueStats
	CacheSize   int   `json:"cache_size"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
}

// Optimizer bundles the rate limiter, resource cache, payload codec, and
// batch queue behind one handle, wired from a single Config. All state is
// instance-owned.
type Optimizer struct {
	cfg     Config
	Limiter *Limiter
	Cache   *Cache
	Codec   Codec
	Queue   *Queue
}

// NewOptimizer builds the perf layer. process handles chunks of queued
// batch jobs; a nil process leaves the queue usable for bookkeeping only.
func NewOptimizer(cfg Config, log zerolog.Logger, process ProcessFunc) *Optimizer {
	limiter := NewLimiter(cfg.RateLimitEnabled, cfg.RequestsPerSecond, cfg.BurstLimit)
	limiter.Configure(LimiterBatch, cfg.RequestsPerSecond, cfg.BurstLimit)
	limiter.Configure(LimiterAPI, cfg.RequestsPerSecond, cfg.BurstLimit)

	return &Optimizer{
		cfg:     cfg,
		Limiter: limiter,
		Cache:   NewCache(cfg.CacheEnabled, cfg.CacheTTL),
		Codec:   NewCodec(cfg.CompressionEnabled),
		Queue:   NewQueue(cfg, limiter, log, process),
	}
}

// Start runs the queue dispatcher and cache sweeper until ctx is cancelled.
func (o *Optimizer) Start(ctx context.Context) {
	o.Queue.Start(ctx, 5*time.Second)
	o.Cache.StartSweeper(ctx, time.Minute)
}

// Stop halts the queue dispatcher.
func (o *Optimizer) Stop() {
	o.Queue.Stop()
}

// BatchProcess chunks ids and runs fn with this layer's limiter and the
// configured batch size and concurrency unless overridden in opts.
func (o *Optimizer) BatchProcess(ctx context.Context, ids []string, fn func(context.Context, []string) error, opts BatchOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = o.cfg.BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = o.cfg.ConcurrentBatches
	}
	return BatchProcess(ctx, o.Limiter, ids, fn, opts)
}

// ResourcesForDeltaSync selects the working set per the configured delta
// sync flag.
func (o *Optimizer) ResourcesForDeltaSync(ctx context.Context, store ResourceLister, orgID uuid.UUID, resourceType string, lastSync time.Time) ([]string, error) {
	return ResourcesForDeltaSync(ctx, store, o.cfg.DeltaSyncEnabled, orgID, resourceType, lastSync)
}

// ClearCache removes cached payloads matching the filters.
func (o *Optimizer) ClearCache(orgID uuid.UUID, resourceType string) int {
	return o.Cache.Clear(orgID, resourceType)
}

// Stats combines queue and cache statistics.
func (o *Optimizer) Stats() Stats {
	hits, misses := o.Cache.HitStats()
	return Stats{
		QueueStats:  o.Queue.Stats(),
		CacheSize:   o.Cache.Size(),
		CacheHits:   hits,
		CacheMisses: misses,
	}
}

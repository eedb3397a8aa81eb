package perf

import "time"

// Config tunes the batching, caching, and rate-limiting behavior of the
// fetch/persist path.
type Config struct {
	BatchSize          int
	ConcurrentBatches  int
	CompressionEnabled bool
	CacheEnabled       bool
	CacheTTL           time.Duration
	RateLimitEnabled   bool
	RequestsPerSecond  float64
	BurstLimit         int
	DeltaSyncEnabled   bool
	// ResourcePriorities orders ad hoc batch jobs; higher runs first.
	ResourcePriorities map[string]int
}

// DefaultConfig returns production defaults tuned for polite bulk traffic
// against external EHR APIs.
func DefaultConfig() Config {
	return Config{
		BatchSize:          100,
		ConcurrentBatches:  3,
		CompressionEnabled: false,
		CacheEnabled:       true,
		CacheTTL:           4 * time.Hour,
		RateLimitEnabled:   true,
		RequestsPerSecond:  10,
		BurstLimit:         50,
		DeltaSyncEnabled:   true,
		ResourcePriorities: map[string]int{
			"Patient":            10,
			"AllergyIntolerance": 9,
			"Encounter":          8,
			"Procedure":          7,
			"Observation":        6,
			"DiagnosticReport":   6,
			"Medication":         5,
		},
	}
}

const defaultJobPriority = 5

func (c Config) priorityFor(resourceType string) int {
	if p, ok := c.ResourcePriorities[resourceType]; ok {
		return p
	}
	return defaultJobPriority
}

package conflict

// Strategy names how a conflicting field is resolved.
type Strategy string

const (
	LocalWins       Strategy = "local_wins"
	RemoteWins      Strategy = "remote_wins"
	TimestampBased  Strategy = "timestamp_based"
	MergeCompatible Strategy = "merge_compatible"
	SourcePriority  Strategy = "source_priority"
)

func (s Strategy) known() bool {
	switch s {
	case LocalWins, RemoteWins, TimestampBased, MergeCompatible, SourcePriority:
		return true
	}
	return false
}

// SeverityThresholds are ascending score cut-offs: a total score below Low is
// low severity, below Medium is medium, below High is high, anything else is
// critical.
type SeverityThresholds struct {
	Low    int
	Medium int
	High   int
}

// Config tunes detection and resolution.
type Config struct {
	DefaultStrategy Strategy
	// FieldStrategies overrides the strategy for specific field paths.
	FieldStrategies map[string]Strategy
	Thresholds      SeverityThresholds
	// AutoResolveBelow: conflicts strictly below this severity may be
	// auto-resolved. SeverityLow means never.
	AutoResolveBelow Severity
	// CriticalFields always require a manual decision; no strategy may
	// silently override them.
	CriticalFields []string
	// TrustedSources is the allow-list consulted by SourcePriority.
	TrustedSources []string
}

// DefaultConfig returns the resolution defaults for clinical resources.
// Demographics and identifiers are guarded; contact points merge.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy: TimestampBased,
		FieldStrategies: map[string]Strategy{
			"id":               LocalWins,
			"meta.versionId":   RemoteWins,
			"meta.lastUpdated": RemoteWins,
			"identifier":       MergeCompatible,
			"active":           RemoteWins,
			"name":             TimestampBased,
			"telecom":          MergeCompatible,
			"address":          TimestampBased,
		},
		Thresholds:       SeverityThresholds{Low: 3, Medium: 8, High: 15},
		AutoResolveBelow: SeverityMedium,
		CriticalFields: []string{
			"id",
			"identifier.value",
			"birthDate",
			"deceasedDateTime",
			"active",
		},
		TrustedSources: []string{
			"epic-ehr",
			"cerner-ehr",
			"healthlake-canonical",
		},
	}
}

func (c *Config) critical(field string) bool {
	for _, f := range c.CriticalFields {
		if f == field {
			return true
		}
	}
	return false
}

func (c *Config) trusted(source string) bool {
	for _, s := range c.TrustedSources {
		if s == source {
			return true
		}
	}
	return false
}

// severityFor maps an aggregate score to a severity bucket.
func (c *Config) severityFor(score int) Severity {
	switch {
	case score < c.Thresholds.Low:
		return SeverityLow
	case score < c.Thresholds.Medium:
		return SeverityMedium
	case score < c.Thresholds.High:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

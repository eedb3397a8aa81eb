package conflict

import "errors"

var (
	// ErrNotFound is returned when a conflict ID is not in the pending set.
	ErrNotFound = errors.New("conflict not found")

	// ErrUnsupportedStrategy is returned for strategy names outside the
	// known set. Unknown strategies are never silently ignored.
	ErrUnsupportedStrategy = errors.New("unsupported resolution strategy")

	// ErrCriticalField is returned when a resolution touches a critical
	// field without a manual override. Defaulting on such fields is
	// disallowed for clinical data.
	ErrCriticalField = errors.New("critical field requires manual review")
)

package engine

import (
	"context"
	"errors"

	"github.com/ehr/ehrsync/internal/domain/connection"
	"github.com/ehr/ehrsync/internal/domain/resource"
)

// Sentinel errors surfaced by job submission and execution.
var (
	ErrInvalidConfig      = errors.New("invalid job configuration")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionInactive = errors.New("connection is not active")
	ErrNotRunning         = errors.New("engine is not running")
)

// FetchFilters narrows a fetch call against a source system.
type FetchFilters struct {
	DateFrom   string
	DateTo     string
	PatientIDs []string
	// ResourceIDs restricts the fetch to an explicit allow-list of ids.
	ResourceIDs []string
}

// Fetcher retrieves resource payloads from an external EHR system. A vendor
// adapter implements this per connection protocol. Errors are treated as
// transient unless wrapped with Permanent.
type Fetcher interface {
	FetchResources(ctx context.Context, conn *connection.Connection, resourceType string, filters FetchFilters) ([]resource.Payload, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable. A job failing with a permanent
// error skips the backoff schedule regardless of remaining retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error chain contains a permanent marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

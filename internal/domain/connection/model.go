package connection

import (
	"time"

	"github.com/google/uuid"
)

// Connection describes one external EHR source-of-record system an
// organization syncs from.
type Connection struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Vendor         string    `json:"vendor"` // e.g. "epic", "cerner"
	BaseURL        string    `json:"base_url"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

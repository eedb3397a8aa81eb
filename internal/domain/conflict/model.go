package conflict

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ehrsync/internal/domain/resource"
)

// EntryKind classifies one field-level divergence.
type EntryKind string

const (
	ValueMismatch    EntryKind = "value_mismatch"
	VersionMismatch  EntryKind = "version_mismatch"
	StructuralChange EntryKind = "structural_change"
	DeletionConflict EntryKind = "deletion_conflict"
)

// score is the contribution of each kind to the aggregate severity.
func (k EntryKind) score() int {
	switch k {
	case ValueMismatch:
		return 1
	case VersionMismatch:
		return 2
	case StructuralChange:
		return 3
	case DeletionConflict:
		return 4
	}
	return 0
}

// Severity of a detected conflict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for threshold comparisons. Unknown values rank
// above critical so they are never auto-resolved.
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return 4
}

// Entry records one field-level divergence between local and remote.
type Entry struct {
	Field          string      `json:"field"`
	LocalValue     interface{} `json:"local_value"`
	RemoteValue    interface{} `json:"remote_value"`
	LocalModified  time.Time   `json:"local_modified"`
	RemoteModified time.Time   `json:"remote_modified"`
	Kind           EntryKind   `json:"kind"`
}

// ResourceConflict is a detected divergence between a canonical resource and
// its freshly fetched remote counterpart.
type ResourceConflict struct {
	ID             uuid.UUID        `json:"id"`
	ResourceID     uuid.UUID        `json:"resource_id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	ResourceType   string           `json:"resource_type"`
	FHIRID         string           `json:"fhir_id"`
	Local          resource.Payload `json:"local"`
	Remote         resource.Payload `json:"remote"`
	Entries        []Entry          `json:"entries"`
	Severity       Severity         `json:"severity"`
	DetectedAt     time.Time        `json:"detected_at"`
}

// Action taken on one field during resolution.
type Action string

const (
	ActionKeepLocal      Action = "keep_local"
	ActionAcceptRemote   Action = "accept_remote"
	ActionMerge          Action = "merge"
	ActionManualOverride Action = "manual_override"
)

// AppliedChange records the resolution of one conflict entry.
type AppliedChange struct {
	Field  string      `json:"field"`
	Action Action      `json:"action"`
	Value  interface{} `json:"value"`
	Reason string      `json:"reason"`
}

// Resolution is the outcome of resolving a ResourceConflict. Every entry in
// the originating conflict has exactly one applied change.
type Resolution struct {
	ConflictID     uuid.UUID        `json:"conflict_id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	FHIRID         string           `json:"fhir_id"`
	Strategy       Strategy         `json:"strategy"`
	Resolved       resource.Payload `json:"resolved"`
	AppliedChanges []AppliedChange  `json:"applied_changes"`
	ResolvedAt     time.Time        `json:"resolved_at"`
	ResolvedBy     string           `json:"resolved_by"` // "system" or "user"
}

package resource

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Sync status values for a canonical resource.
const (
	StatusSynced   = "synced"
	StatusConflict = "conflict"
	StatusError    = "error"
)

// CanonicalResource is the locally persisted copy of one externally sourced
// FHIR resource. The tuple (ConnectionID, FHIRID, ResourceType) uniquely
// identifies a canonical resource. Resources are never hard-deleted; a
// source-side deletion surfaces as a conflict instead.
type CanonicalResource struct {
	ID              uuid.UUID              `json:"id"`
	OrganizationID  uuid.UUID              `json:"organization_id"`
	ConnectionID    uuid.UUID              `json:"connection_id"`
	FHIRID          string                 `json:"fhir_id"`
	ResourceType    string                 `json:"resource_type"`
	ResourceVersion string                 `json:"resource_version"`
	Data            json.RawMessage        `json:"data"`
	Extracted       map[string]interface{} `json:"extracted,omitempty"`
	LocalEntityID   *uuid.UUID             `json:"local_entity_id,omitempty"`
	LocalEntityType *string                `json:"local_entity_type,omitempty"`
	SyncStatus      string                 `json:"sync_status"`
	LastSyncAt      time.Time              `json:"last_sync_at"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Payload is a decoded FHIR resource body as received from a source system.
type Payload map[string]interface{}

// FHIRID returns the resource's logical id, or "" when absent.
func (p Payload) FHIRID() string {
	s, _ := p["id"].(string)
	return s
}

// ResourceType returns the declared resourceType, or "" when absent.
func (p Payload) ResourceType() string {
	s, _ := p["resourceType"].(string)
	return s
}

func (p Payload) meta() map[string]interface{} {
	m, _ := p["meta"].(map[string]interface{})
	return m
}

// Version returns meta.versionId, or "" when absent.
func (p Payload) Version() string {
	s, _ := p.meta()["versionId"].(string)
	return s
}

// Source returns meta.source, the declared origin system, or "" when absent.
func (p Payload) Source() string {
	s, _ := p.meta()["source"].(string)
	return s
}

// LastUpdated returns meta.lastUpdated parsed as RFC 3339. The zero time is
// returned when the field is absent or unparseable.
func (p Payload) LastUpdated() time.Time {
	s, _ := p.meta()["lastUpdated"].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DecodePayload parses a raw resource body into a Payload.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodePayload serializes a Payload back to JSON.
func EncodePayload(p Payload) (json.RawMessage, error) {
	return json.Marshal(p)
}

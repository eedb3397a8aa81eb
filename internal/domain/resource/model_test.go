package resource

import (
	"encoding/json"
	"testing"
	"time"
)

func patientPayload() Payload {
	raw := `{
		"resourceType": "Patient",
		"id": "pat-1",
		"meta": {"versionId": "3", "lastUpdated": "2026-02-10T08:30:00Z", "source": "epic-ehr"},
		"name": [{"given": ["Ada"], "family": "Byron"}],
		"birthDate": "1985-12-10",
		"gender": "female",
		"telecom": [
			{"system": "phone", "value": "+1-555-0100"},
			{"system": "email", "value": "ada@example.org"}
		]
	}`
	p, err := DecodePayload(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return p
}

func TestPayloadAccessors(t *testing.T) {
	p := patientPayload()

	if p.FHIRID() != "pat-1" {
		t.Errorf("FHIRID: got %q", p.FHIRID())
	}
	if p.ResourceType() != "Patient" {
		t.Errorf("ResourceType: got %q", p.ResourceType())
	}
	if p.Version() != "3" {
		t.Errorf("Version: got %q", p.Version())
	}
	if p.Source() != "epic-ehr" {
		t.Errorf("Source: got %q", p.Source())
	}
	want := time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	if !p.LastUpdated().Equal(want) {
		t.Errorf("LastUpdated: got %s, want %s", p.LastUpdated(), want)
	}
}

func TestPayloadAccessors_Missing(t *testing.T) {
	p := Payload{"resourceType": "Observation"}

	if p.FHIRID() != "" {
		t.Errorf("expected empty FHIRID, got %q", p.FHIRID())
	}
	if p.Version() != "" {
		t.Errorf("expected empty version, got %q", p.Version())
	}
	if !p.LastUpdated().IsZero() {
		t.Errorf("expected zero LastUpdated, got %s", p.LastUpdated())
	}
}

func TestExtractSummary_Patient(t *testing.T) {
	extracted := ExtractSummary(patientPayload())

	if extracted["firstName"] != "Ada" {
		t.Errorf("firstName: got %v", extracted["firstName"])
	}
	if extracted["lastName"] != "Byron" {
		t.Errorf("lastName: got %v", extracted["lastName"])
	}
	if extracted["birthDate"] != "1985-12-10" {
		t.Errorf("birthDate: got %v", extracted["birthDate"])
	}
	if extracted["phone"] != "+1-555-0100" {
		t.Errorf("phone: got %v", extracted["phone"])
	}
	if extracted["email"] != "ada@example.org" {
		t.Errorf("email: got %v", extracted["email"])
	}
}

func TestExtractSummary_Encounter(t *testing.T) {
	raw := `{
		"resourceType": "Encounter",
		"id": "enc-1",
		"status": "finished",
		"class": {"code": "AMB"},
		"period": {"start": "2026-01-01T09:00:00Z", "end": "2026-01-01T10:00:00Z"},
		"subject": {"reference": "Patient/pat-1"}
	}`
	p, err := DecodePayload(json.RawMessage(raw))
	if err != nil {
		t.Fatal(err)
	}

	extracted := ExtractSummary(p)
	if extracted["status"] != "finished" {
		t.Errorf("status: got %v", extracted["status"])
	}
	if extracted["class"] != "AMB" {
		t.Errorf("class: got %v", extracted["class"])
	}
	if extracted["patientReference"] != "Patient/pat-1" {
		t.Errorf("patientReference: got %v", extracted["patientReference"])
	}
}

func TestExtractSummary_UnknownType(t *testing.T) {
	p := Payload{"resourceType": "Observation", "id": "obs-1"}
	extracted := ExtractSummary(p)
	if len(extracted) != 0 {
		t.Errorf("expected no extracted fields for unmapped type, got %v", extracted)
	}
}

func TestLocalEntityType(t *testing.T) {
	if LocalEntityType("Patient") != "patient" {
		t.Error("Patient should map to patient")
	}
	if LocalEntityType("Encounter") != "encounter" {
		t.Error("Encounter should map to encounter")
	}
	if LocalEntityType("Observation") != "" {
		t.Error("unmapped type should yield empty string")
	}
}

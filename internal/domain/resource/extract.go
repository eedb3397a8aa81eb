package resource

// ExtractSummary pulls type-specific summary fields out of a resource payload
// for fast lookups without touching the raw document. Unknown resource types
// yield an empty map.
func ExtractSummary(p Payload) map[string]interface{} {
	extracted := make(map[string]interface{})

	switch p.ResourceType() {
	case "Patient":
		if name := firstElement(p["name"]); name != nil {
			if given, ok := name["given"].([]interface{}); ok && len(given) > 0 {
				extracted["firstName"] = given[0]
			}
			if family, ok := name["family"]; ok {
				extracted["lastName"] = family
			}
		}
		if bd, ok := p["birthDate"]; ok {
			extracted["birthDate"] = bd
		}
		if g, ok := p["gender"]; ok {
			extracted["gender"] = g
		}
		if v := telecomValue(p["telecom"], "phone"); v != nil {
			extracted["phone"] = v
		}
		if v := telecomValue(p["telecom"], "email"); v != nil {
			extracted["email"] = v
		}

	case "Encounter":
		if s, ok := p["status"]; ok {
			extracted["status"] = s
		}
		if class, ok := p["class"].(map[string]interface{}); ok {
			if code, ok := class["code"]; ok {
				extracted["class"] = code
			}
		}
		if period, ok := p["period"]; ok {
			extracted["period"] = period
		}
		if subject, ok := p["subject"].(map[string]interface{}); ok {
			if ref, ok := subject["reference"]; ok {
				extracted["patientReference"] = ref
			}
		}
	}

	return extracted
}

// LocalEntityType maps a FHIR resource type to the internal domain table it
// projects onto, or "" when no mapping exists.
func LocalEntityType(resourceType string) string {
	switch resourceType {
	case "Patient":
		return "patient"
	case "Encounter":
		return "encounter"
	default:
		return ""
	}
}

func firstElement(v interface{}) map[string]interface{} {
	arr, ok := v.([]interface{})
	if !ok || len(arr) == 0 {
		return nil
	}
	m, _ := arr[0].(map[string]interface{})
	return m
}

func telecomValue(v interface{}, system string) interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	for _, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if m["system"] == system {
			return m["value"]
		}
	}
	return nil
}

package forms

import (
	"bytes"
	"encoding/json"
	"strings"
)

// IsEmpty reports whether a section payload counts as unanswered. Missing
// payloads, JSON null, empty objects, empty arrays and blank strings are
// empty. Any explicit boolean, true or false, is an answer.
func IsEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}

	var value interface{}
	if err := json.Unmarshal(trimmed, &value); err != nil {
		// Stored payloads are validated before write; treat garbage as unanswered.
		return true
	}
	return isEmptyValue(value)
}

func isEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case map[string]interface{}:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	case string:
		return strings.TrimSpace(v) == ""
	case bool:
		return false
	default:
		return false
	}
}

// Percentage rounds 100*filled/total half up using integer arithmetic, so
// 1 of 3 is 33 and 2 of 3 is 67. A form with nothing required is complete.
func Percentage(filled, total int) int {
	if total <= 0 {
		return 100
	}
	if filled < 0 {
		filled = 0
	}
	if filled > total {
		filled = total
	}
	return (200*filled + total) / (2 * total)
}

// Completion computes the completion percentage of a section set against a
// schema's required sections.
func Completion(schema *Schema, sections map[string]json.RawMessage) int {
	required := schema.RequiredSections()
	filled := 0
	for _, key := range required {
		if !IsEmpty(sections[key]) {
			filled++
		}
	}
	return Percentage(filled, len(required))
}

// MissingSections lists the required sections that are still empty, in schema order.
func MissingSections(schema *Schema, sections map[string]json.RawMessage) []string {
	missing := []string{}
	for _, key := range schema.RequiredSections() {
		if IsEmpty(sections[key]) {
			missing = append(missing, key)
		}
	}
	return missing
}

// AnyAnswered reports whether at least one section, required or not, is non-empty.
func AnyAnswered(sections map[string]json.RawMessage) bool {
	for _, raw := range sections {
		if !IsEmpty(raw) {
			return true
		}
	}
	return false
}

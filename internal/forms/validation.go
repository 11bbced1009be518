package forms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrUnknownSection is returned for a section key the schema does not define.
var ErrUnknownSection = errors.New("unknown section")

// ErrMalformedSection is returned when a payload does not match its section definition.
var ErrMalformedSection = errors.New("malformed section payload")

// Report is the outcome of validating a whole document.
type Report struct {
	Valid           bool     `json:"valid"`
	MissingSections []string `json:"missing_sections"`
	Errors          []string `json:"errors"`
}

// NormalizePayload validates a section payload against its definition and
// returns the compacted JSON to store. A JSON null (or an empty body) clears
// the section and is returned as nil.
func NormalizePayload(schema *Schema, key string, raw json.RawMessage) (json.RawMessage, error) {
	sec, ok := schema.Section(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a %s section", ErrUnknownSection, key, schema.FormType)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	err := validation.Validate([]byte(trimmed),
		validation.Length(0, schema.maxBytes(sec)),
		validation.By(kindRule(sec.Kind)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSection, key, err)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSection, key, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// kindRule checks that a JSON payload decodes to the section's kind.
func kindRule(kind SectionKind) validation.RuleFunc {
	return func(value interface{}) error {
		data, _ := value.([]byte)
		if !json.Valid(data) {
			return errors.New("must be valid JSON")
		}

		var decoded interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return errors.New("must be valid JSON")
		}

		switch kind {
		case KindObject:
			if _, ok := decoded.(map[string]interface{}); !ok {
				return errors.New("must be a JSON object")
			}
		case KindArray:
			if _, ok := decoded.([]interface{}); !ok {
				return errors.New("must be a JSON array")
			}
		case KindBoolean:
			if _, ok := decoded.(bool); !ok {
				return errors.New("must be true or false")
			}
		case KindString:
			if _, ok := decoded.(string); !ok {
				return errors.New("must be a JSON string")
			}
		}
		return nil
	}
}

// Validate checks a section set against the schema: every required section must
// be non-empty and every cross-field rule must hold. It never mutates sections.
func Validate(schema *Schema, sections map[string]json.RawMessage) Report {
	report := Report{
		MissingSections: MissingSections(schema, sections),
		Errors:          []string{},
	}

	ruleErrs := validation.Errors{}
	for i, rule := range schema.Rules {
		name := fmt.Sprintf("%s.%s", rule.Section, rule.Require)
		if err := checkRule(rule, sections[rule.Section]); err != nil {
			if _, seen := ruleErrs[name]; seen {
				name = fmt.Sprintf("%s#%d", name, i)
			}
			ruleErrs[name] = err
		}
	}

	if err := ruleErrs.Filter(); err != nil {
		var errs validation.Errors
		if errors.As(err, &errs) {
			keys := make([]string, 0, len(errs))
			for k := range errs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", k, errs[k].Error()))
			}
		}
	}

	report.Valid = len(report.MissingSections) == 0 && len(report.Errors) == 0
	return report
}

// checkRule applies one flag/explanation rule to an object section payload.
// Empty sections are reported as missing elsewhere, so they pass here.
func checkRule(rule Rule, raw json.RawMessage) error {
	if IsEmpty(raw) {
		return nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}

	flag, _ := fields[rule.When].(bool)
	if !flag {
		return nil
	}

	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("%s is required when %s is true", rule.Require, rule.When)
	}

	return validation.Validate(fields[rule.Require],
		validation.By(func(value interface{}) error {
			if isEmptyValue(value) {
				return errors.New(message)
			}
			return nil
		}),
	)
}

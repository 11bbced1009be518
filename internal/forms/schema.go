// Package forms holds the form schemas and the pure rules applied to form
// documents: section emptiness, completion percentage, payload validation and
// the status state machine. Nothing here touches storage.
package forms

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/stwalsh4118/moveit/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/*.yaml
var schemaFiles embed.FS

// DefaultMaxSectionBytes caps a section payload when the schema does not set max_bytes.
const DefaultMaxSectionBytes = 64 * 1024

// SectionKind is the JSON shape a section payload must have.
type SectionKind string

const (
	KindObject  SectionKind = "object"
	KindArray   SectionKind = "array"
	KindBoolean SectionKind = "boolean"
	KindString  SectionKind = "string"
)

func (k SectionKind) valid() bool {
	switch k {
	case KindObject, KindArray, KindBoolean, KindString:
		return true
	}
	return false
}

// Section describes one section of a form.
type Section struct {
	Key      string      `yaml:"key"`
	Title    string      `yaml:"title"`
	Kind     SectionKind `yaml:"kind"`
	Required bool        `yaml:"required"`
	MaxBytes int         `yaml:"max_bytes"`
}

// Rule is a cross-field consistency check inside an object section: when the
// boolean field When is true, the field Require must be non-empty.
type Rule struct {
	Section string `yaml:"section"`
	When    string `yaml:"when"`
	Require string `yaml:"require"`
	Message string `yaml:"message"`
}

// Schema is the declarative definition of a form type.
type Schema struct {
	FormType      models.FormType `yaml:"form_type"`
	Table         string          `yaml:"table"`
	InitialStatus models.Status   `yaml:"initial_status"`
	HasSignatures bool            `yaml:"signatures"`
	Sections      []Section       `yaml:"sections"`
	Rules         []Rule          `yaml:"rules"`

	index map[string]int
}

// Section looks up a section definition by key.
func (s *Schema) Section(key string) (Section, bool) {
	i, ok := s.index[key]
	if !ok {
		return Section{}, false
	}
	return s.Sections[i], true
}

// SectionKeys returns every section key in schema order.
func (s *Schema) SectionKeys() []string {
	keys := make([]string, 0, len(s.Sections))
	for _, sec := range s.Sections {
		keys = append(keys, sec.Key)
	}
	return keys
}

// RequiredSections returns the required section keys in schema order.
func (s *Schema) RequiredSections() []string {
	var keys []string
	for _, sec := range s.Sections {
		if sec.Required {
			keys = append(keys, sec.Key)
		}
	}
	return keys
}

func (s *Schema) maxBytes(sec Section) int {
	if sec.MaxBytes > 0 {
		return sec.MaxBytes
	}
	return DefaultMaxSectionBytes
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// reservedColumns are taken by the fixed part of every form table.
var reservedColumns = map[string]bool{
	"id": true, "property_id": true, "seller_id": true, "status": true,
	"completion_percentage": true, "last_auto_save_at": true, "version": true,
	"created_at": true, "updated_at": true, "shared_with": true, "shared_at": true,
	"acknowledged_at": true, "seller1_signature": true, "seller2_signature": true,
	"buyer1_signature": true, "buyer2_signature": true,
}

func (s *Schema) init() error {
	if !s.FormType.Valid() {
		return fmt.Errorf("unknown form type %q", s.FormType)
	}
	if !identifierPattern.MatchString(s.Table) {
		return fmt.Errorf("form %s: invalid table name %q", s.FormType, s.Table)
	}
	if !s.InitialStatus.IsEmptyState() {
		return fmt.Errorf("form %s: initial status %q is not an empty state", s.FormType, s.InitialStatus)
	}
	if len(s.Sections) == 0 {
		return fmt.Errorf("form %s: no sections defined", s.FormType)
	}

	s.index = make(map[string]int, len(s.Sections))
	for i, sec := range s.Sections {
		if !identifierPattern.MatchString(sec.Key) || reservedColumns[sec.Key] {
			return fmt.Errorf("form %s: invalid section key %q", s.FormType, sec.Key)
		}
		if !sec.Kind.valid() {
			return fmt.Errorf("form %s: section %s has unknown kind %q", s.FormType, sec.Key, sec.Kind)
		}
		if _, dup := s.index[sec.Key]; dup {
			return fmt.Errorf("form %s: duplicate section %q", s.FormType, sec.Key)
		}
		s.index[sec.Key] = i
	}

	for _, rule := range s.Rules {
		sec, ok := s.Section(rule.Section)
		if !ok {
			return fmt.Errorf("form %s: rule references unknown section %q", s.FormType, rule.Section)
		}
		if sec.Kind != KindObject {
			return fmt.Errorf("form %s: rule on non-object section %q", s.FormType, rule.Section)
		}
		if rule.When == "" || rule.Require == "" {
			return fmt.Errorf("form %s: rule on %s needs when and require", s.FormType, rule.Section)
		}
	}
	return nil
}

// ParseSchema decodes and checks a YAML schema definition.
func ParseSchema(data []byte) (*Schema, error) {
	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	if err := schema.init(); err != nil {
		return nil, err
	}
	return &schema, nil
}

// Registry holds the schema of every form type.
type Registry struct {
	schemas map[models.FormType]*Schema
	mu      sync.RWMutex
}

// NewRegistry builds a registry from the given schemas.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[models.FormType]*Schema)}
	for _, s := range schemas {
		if _, dup := r.schemas[s.FormType]; dup {
			return nil, fmt.Errorf("duplicate schema for form type %s", s.FormType)
		}
		r.schemas[s.FormType] = s
	}
	return r, nil
}

// LoadRegistry loads the embedded disclosure and checklist schemas.
func LoadRegistry() (*Registry, error) {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schemas: %w", err)
	}

	var schemas []*Schema
	for _, entry := range entries {
		name := "schemas/" + entry.Name()
		data, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		schema, err := ParseSchema(data)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
		schemas = append(schemas, schema)
	}
	return NewRegistry(schemas...)
}

// MustLoadRegistry is LoadRegistry for callers that cannot continue without schemas.
func MustLoadRegistry() *Registry {
	r, err := LoadRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Schema returns the schema for a form type.
func (r *Registry) Schema(formType models.FormType) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[formType]
	if !ok {
		return nil, fmt.Errorf("no schema registered for form type %q", formType)
	}
	return s, nil
}

// FormTypes returns the registered form types in a stable order.
func (r *Registry) FormTypes() []models.FormType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.FormType, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

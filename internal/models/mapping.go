package models

import "time"

// Transformation names a pure value transform applied before validation
type Transformation string

const (
	TransformTrim        Transformation = "trim"
	TransformUppercase   Transformation = "uppercase"
	TransformLowercase   Transformation = "lowercase"
	TransformCapitalize  Transformation = "capitalize"
	TransformPhoneFormat Transformation = "phone_format"
	TransformDateFormat  Transformation = "date_format"
)

// ValidTransformations defines the allowed transformation names
var ValidTransformations = map[Transformation]bool{
	TransformTrim:        true,
	TransformUppercase:   true,
	TransformLowercase:   true,
	TransformCapitalize:  true,
	TransformPhoneFormat: true,
	TransformDateFormat:  true,
}

// FieldMapping binds one source column to one target field, scoped to
// (session, entity type). SourceField empty means unmapped. Required is
// derived from the schema registry and is not operator-editable.
type FieldMapping struct {
	SourceField    string         `json:"source_field"`
	TargetField    string         `json:"target_field"`
	DataType       DataType       `json:"data_type"`
	Required       bool           `json:"required"`
	Transformation Transformation `json:"transformation,omitempty"`
}

// MappingSet is the live mapping for one (session, entity type) pair. Version
// increments on every write; a write carrying a stale version is rejected so
// two operators cannot silently overwrite each other.
type MappingSet struct {
	SessionID  string         `json:"session_id" db:"session_id"`
	EntityType EntityType     `json:"entity_type" db:"entity_type"`
	Version    int            `json:"version" db:"version"`
	Mappings   []FieldMapping `json:"mappings" db:"-"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// Get returns the mapping for a target field, if present
func (ms *MappingSet) Get(targetField string) (*FieldMapping, bool) {
	for i := range ms.Mappings {
		if ms.Mappings[i].TargetField == targetField {
			return &ms.Mappings[i], true
		}
	}
	return nil, false
}

// DuplicateSources returns source fields bound to more than one target field.
// Multiple bindings are detected, not silently allowed: validation surfaces
// them as warnings on every affected row.
func (ms *MappingSet) DuplicateSources() map[string][]string {
	byCounts := make(map[string][]string)
	for _, m := range ms.Mappings {
		if m.SourceField == "" {
			continue
		}
		byCounts[m.SourceField] = append(byCounts[m.SourceField], m.TargetField)
	}
	dups := make(map[string][]string)
	for src, targets := range byCounts {
		if len(targets) > 1 {
			dups[src] = targets
		}
	}
	return dups
}

// MappingTemplate is a named, reusable mapping shape keyed by entity type,
// independent of any session. Applying it seeds session mappings by fuzzy
// header matching; it never mutates itself.
type MappingTemplate struct {
	ID         string         `json:"template_id" db:"id"`
	Name       string         `json:"name" db:"name"`
	EntityType EntityType     `json:"entity_type" db:"entity_type"`
	Mappings   []FieldMapping `json:"mappings" db:"-"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

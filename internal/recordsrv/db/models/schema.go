package models

import (
	"github.com/recordum/recordum/pkg/types"
)

// FieldSnapshot is a field definition frozen into a published schema version.
type FieldSnapshot struct {
	LogicalName    string          `json:"logical_name"`
	DisplayName    string          `json:"display_name"`
	FieldType      types.FieldType `json:"field_type"`
	Required       bool            `json:"required"`
	Unique         bool            `json:"unique"`
	DefaultValue   *types.Value    `json:"default_value,omitempty"`
	RelationTarget string          `json:"relation_target,omitempty"`
	OptionSetName  string          `json:"option_set_name,omitempty"`
	Calculation    string          `json:"calculation,omitempty"`
	MaxLength      int             `json:"max_length,omitempty"`
	MinValue       *float64        `json:"min_value,omitempty"`
	MaxValue       *float64        `json:"max_value,omitempty"`
	// OptionValues freezes the allowed values for OptionSet fields so runtime
	// validation does not depend on mutable option-set definitions.
	OptionValues []string `json:"option_values,omitempty"`
}

// EntitySchema is the immutable snapshot of an entity and its fields at a
// published version. It is the document stored in
// entity_published_versions.schema_data and the unit cached by the schema
// registry.
type EntitySchema struct {
	EntityName  string          `json:"entity_logical_name"`
	DisplayName string          `json:"display_name"`
	Version     int             `json:"version"`
	Fields      []FieldSnapshot `json:"fields"`
}

// Field returns the snapshot for the given logical name.
func (s *EntitySchema) Field(logicalName string) (*FieldSnapshot, bool) {
	for i := range s.Fields {
		if s.Fields[i].LogicalName == logicalName {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// RelationFields returns the relation-typed fields of the schema.
func (s *EntitySchema) RelationFields() []FieldSnapshot {
	var out []FieldSnapshot
	for _, f := range s.Fields {
		if f.FieldType == types.FieldTypeRelation {
			out = append(out, f)
		}
	}
	return out
}

// UniqueFields returns the unique-constrained fields of the schema.
func (s *EntitySchema) UniqueFields() []FieldSnapshot {
	var out []FieldSnapshot
	for _, f := range s.Fields {
		if f.Unique {
			out = append(out, f)
		}
	}
	return out
}

package metadata

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/recordum/recordum/pkg/types"
)

// EntityRequest creates or updates an entity definition. The logical name is
// immutable after creation.
type EntityRequest struct {
	LogicalName string `json:"logical_name" validate:"required,logicalNameValidator"`
	DisplayName string `json:"display_name" validate:"required,max=256"`
	PluralName  string `json:"plural_name" validate:"max=256"`
	Description string `json:"description" validate:"max=1024"`
	Icon        string `json:"icon" validate:"max=128"`
}

// FieldRequest creates or updates a field definition on an entity.
type FieldRequest struct {
	LogicalName    string              `json:"logical_name" validate:"required,logicalNameValidator"`
	DisplayName    string              `json:"display_name" validate:"required,max=256"`
	FieldType      types.FieldType     `json:"field_type" validate:"required,fieldTypeValidator"`
	Required       bool                `json:"required"`
	Unique         bool                `json:"unique"`
	DefaultValue   jsoniter.RawMessage `json:"default_value,omitempty"`
	RelationTarget string              `json:"relation_target,omitempty"`
	OptionSetName  string              `json:"option_set_name,omitempty"`
	Calculation    string              `json:"calculation,omitempty"`
	MaxLength      int                 `json:"max_length,omitempty" validate:"min=0"`
	MinValue       *float64            `json:"min_value,omitempty"`
	MaxValue       *float64            `json:"max_value,omitempty"`
}

// OptionSetSpec is the definition document of a named option set.
type OptionSetSpec struct {
	Name        string       `json:"name" validate:"required,logicalNameValidator"`
	DisplayName string       `json:"display_name" validate:"max=256"`
	Options     []OptionSpec `json:"options" validate:"required,min=1,dive"`
}

// OptionSpec is a single allowed value of an option set.
type OptionSpec struct {
	Value string `json:"value" validate:"required,max=256"`
	Label string `json:"label" validate:"max=256"`
}

// FormSpec is the definition document of a form: an ordered layout of tabs,
// sections, and field placements.
type FormSpec struct {
	Name     string         `json:"name" validate:"required,logicalNameValidator"`
	FormType types.FormType `json:"form_type" validate:"required,formTypeValidator"`
	Tabs     []FormTab      `json:"tabs" validate:"required,min=1,dive"`
}

// FormTab groups sections under one label.
type FormTab struct {
	Label    string        `json:"label" validate:"required,max=256"`
	Sections []FormSection `json:"sections" validate:"required,min=1,dive"`
}

// FormSection lays out field placements in columns.
type FormSection struct {
	Label      string           `json:"label" validate:"max=256"`
	Columns    int              `json:"columns" validate:"min=1,max=4"`
	Placements []FieldPlacement `json:"placements" validate:"dive"`
}

// FieldPlacement positions a field within a section. Columns and the
// positions within each column must each be contiguous from zero.
type FieldPlacement struct {
	Field    string `json:"field" validate:"required"`
	Column   int    `json:"column" validate:"min=0"`
	Position int    `json:"position" validate:"min=0"`
}

// ViewSpec is the definition document of a saved view: projected columns,
// a sort order, and an optional filter.
type ViewSpec struct {
	Name        string      `json:"name" validate:"required,logicalNameValidator"`
	DisplayName string      `json:"display_name" validate:"max=256"`
	Columns     []string    `json:"columns" validate:"required,min=1"`
	Sort        []ViewSort  `json:"sort,omitempty" validate:"dive"`
	Filter      *ViewFilter `json:"filter,omitempty"`
}

// ViewSort orders view rows by a field.
type ViewSort struct {
	Field      string `json:"field" validate:"required"`
	Descending bool   `json:"descending"`
}

// ViewFilter narrows view rows with a single field comparison.
type ViewFilter struct {
	Field string              `json:"field" validate:"required"`
	Op    RuleOp              `json:"op" validate:"required"`
	Value jsoniter.RawMessage `json:"value,omitempty"`
}

// RuleOp is a comparison operator usable in business-rule conditions and view
// filters.
type RuleOp string

const (
	RuleOpEquals      RuleOp = "Equals"
	RuleOpNotEquals   RuleOp = "NotEquals"
	RuleOpGreaterThan RuleOp = "GreaterThan"
	RuleOpLessThan    RuleOp = "LessThan"
	RuleOpExists      RuleOp = "Exists"
)

// IsValid reports whether the operator is one of the closed set.
func (op RuleOp) IsValid() bool {
	switch op {
	case RuleOpEquals, RuleOpNotEquals, RuleOpGreaterThan, RuleOpLessThan, RuleOpExists:
		return true
	}
	return false
}

// RuleActionType tags the closed set of business-rule action variants.
type RuleActionType string

const (
	RuleActionSetFieldValue RuleActionType = "SetFieldValue"
	RuleActionRejectWrite   RuleActionType = "RejectWrite"
)

// BusinessRuleSpec is the definition document of a business rule: a condition
// on the incoming payload and the actions applied when it holds. Rules run in
// the write pipeline after defaults and coercion, before uniqueness.
type BusinessRuleSpec struct {
	Name      string        `json:"name" validate:"required,logicalNameValidator"`
	Condition RuleCondition `json:"condition" validate:"required"`
	Actions   []RuleAction  `json:"actions" validate:"required,min=1,dive"`
	Enabled   bool          `json:"enabled"`
}

// RuleCondition compares one payload field against a constant.
type RuleCondition struct {
	Field string              `json:"field" validate:"required"`
	Op    RuleOp              `json:"op" validate:"required"`
	Value jsoniter.RawMessage `json:"value,omitempty"`
}

// RuleAction is one action of a business rule. Type selects the variant;
// SetFieldValue uses Field and Value, RejectWrite uses Message.
type RuleAction struct {
	Type    RuleActionType      `json:"type" validate:"required"`
	Field   string              `json:"field,omitempty"`
	Value   jsoniter.RawMessage `json:"value,omitempty"`
	Message string              `json:"message,omitempty"`
}

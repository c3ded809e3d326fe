// Package query implements the declarative runtime query surface: nested
// boolean groups, typed comparison operators, aliased relation joins, and
// cross-scope sorting, validated against published schemas and planned for
// tenant-scoped execution.
package query

import (
	"github.com/recordum/recordum/pkg/types"
)

// LogicalMode combines sibling conditions.
type LogicalMode string

const (
	LogicalAnd LogicalMode = "And"
	LogicalOr  LogicalMode = "Or"
)

// Operator is a typed comparison operator.
type Operator string

const (
	OpEq         Operator = "Eq"
	OpNotEq      Operator = "NotEq"
	OpGt         Operator = "Gt"
	OpGte        Operator = "Gte"
	OpLt         Operator = "Lt"
	OpLte        Operator = "Lte"
	OpIn         Operator = "In"
	OpNotIn      Operator = "NotIn"
	OpContains   Operator = "Contains"
	OpStartsWith Operator = "StartsWith"
	OpIsNull     Operator = "IsNull"
	OpIsNotNull  Operator = "IsNotNull"
)

// JoinType selects how a link treats root rows without a match.
type JoinType string

const (
	JoinInner     JoinType = "Inner"
	JoinLeftOuter JoinType = "LeftOuter"
)

// SortDirection orders a sort entry.
type SortDirection string

const (
	SortAsc  SortDirection = "Asc"
	SortDesc SortDirection = "Desc"
)

// RootAlias is the reserved scope token naming the root entity. An empty
// scope alias also resolves to the root.
const RootAlias = "root"

// Query is the declarative runtime query submitted by callers.
type Query struct {
	Limit       int         `json:"limit"`
	Offset      int         `json:"offset"`
	LogicalMode LogicalMode `json:"logical_mode,omitempty"`
	// Where is the nested boolean condition tree.
	Where *Group `json:"where,omitempty"`
	// Filters is the legacy flat condition list combined on the root with
	// LogicalMode.
	Filters []Filter    `json:"filters,omitempty"`
	Links   []Link      `json:"links,omitempty"`
	Sort    []SortEntry `json:"sort,omitempty"`
	// OwnerSubject restricts results to records owned by the given subject.
	OwnerSubject string `json:"owner_subject,omitempty"`
}

// Filter is a single typed comparison on a scope's field.
type Filter struct {
	ScopeAlias string      `json:"scope_alias,omitempty"`
	Field      string      `json:"field"`
	Operator   Operator    `json:"operator"`
	Value      types.Value `json:"value,omitempty"`
}

// Group is a boolean node combining filters and nested groups.
type Group struct {
	LogicalMode LogicalMode `json:"logical_mode"`
	Nodes       []GroupNode `json:"nodes"`
}

// GroupNode is the closed union of the two node kinds. Exactly one of Filter
// and Group is set.
type GroupNode struct {
	Filter *Filter `json:"filter,omitempty"`
	Group  *Group  `json:"group,omitempty"`
}

// Link declares an aliased relation join. The parent's relation field must
// point at the target entity; link scopes exist solely for filtering and
// sorting, never for projection.
type Link struct {
	Alias         string   `json:"alias"`
	ParentAlias   string   `json:"parent_alias,omitempty"`
	RelationField string   `json:"relation_field"`
	TargetEntity  string   `json:"target_entity"`
	JoinType      JoinType `json:"join_type"`
}

// SortEntry orders results by a scope's field.
type SortEntry struct {
	ScopeAlias string        `json:"scope_alias,omitempty"`
	Field      string        `json:"field"`
	Direction  SortDirection `json:"direction"`
}
